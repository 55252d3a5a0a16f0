package api

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hotsignals/hotsignals/internal/database"
)

// Handler serves the public endpoints of the admin server.
type Handler struct {
	logger    *slog.Logger
	db        *sql.DB
	platforms []string
	startTime time.Time
}

// NewHandler creates the public endpoint handler. platforms is the list of
// ingestion platforms this worker is configured for. db is the checkpoint
// database; nil when the worker runs with in-memory checkpoints.
func NewHandler(db *sql.DB, platforms []string, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		db:        db,
		platforms: platforms,
		startTime: time.Now(),
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Uptime   string `json:"uptime"`
}

// StatusResponse is the body of GET /api/pipeline/status.
type StatusResponse struct {
	Status    string         `json:"status"`
	Platforms []string       `json:"platforms"`
	Uptime    string         `json:"uptime"`
	StartedAt string         `json:"started_at"`
	Database  map[string]any `json:"database,omitempty"`
}

// Health handles GET /health. An unreachable checkpoint database degrades
// the report to 503 so load balancers rotate the worker out.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := HealthResponse{
		Status:   "ok",
		Database: "not configured",
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.db != nil {
		resp.Database = "ok"
		if err := database.HealthCheck(r.Context(), h.db); err != nil {
			h.logger.Error("checkpoint database unreachable", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /api/pipeline/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := StatusResponse{
		Status:    "running",
		Platforms: h.platforms,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		StartedAt: h.startTime.UTC().Format(time.RFC3339),
	}
	if h.db != nil {
		resp.Database = database.Stats(h.db)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
