package api

import (
	"log/slog"
	"net/http"

	"github.com/hotsignals/hotsignals/internal/models"
	"github.com/hotsignals/hotsignals/internal/tracker"
)

// AdminHandler handles admin-only operations
type AdminHandler struct {
	checkpoints tracker.Repository
	logger      *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(checkpoints tracker.Repository, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		checkpoints: checkpoints,
		logger:      logger,
	}
}

// ResetResponse reports a checkpoint wipe.
type ResetResponse struct {
	Platform string `json:"platform"`
	Removed  int    `json:"removed"`
}

// ResetCheckpoints handles POST /api/admin/checkpoints/reset?platform=.
// Wiping a platform's checkpoints makes its next invocation re-ingest from
// the beginning.
func (h *AdminHandler) ResetCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	platform := r.URL.Query().Get("platform")
	if !models.Platform(platform).Valid() {
		http.Error(w, "Unknown platform", http.StatusBadRequest)
		return
	}

	removed, err := h.checkpoints.ResetPlatform(r.Context(), platform)
	if err != nil {
		h.logger.Error("checkpoint reset failed", "platform", platform, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Warn("checkpoints reset", "platform", platform, "removed", removed)
	writeJSON(w, http.StatusOK, ResetResponse{Platform: platform, Removed: removed})
}
