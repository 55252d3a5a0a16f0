package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/hotsignals/hotsignals/internal/auth"
	"github.com/hotsignals/hotsignals/internal/metrics"
	"github.com/hotsignals/hotsignals/internal/tracker"
)

// SetupRoutes configures the admin server's routes. Health, metrics and
// login are public; everything else requires a valid admin token. db is
// the checkpoint database, nil when checkpoints are held in memory.
func SetupRoutes(
	mux *http.ServeMux,
	db *sql.DB,
	checkpoints tracker.Repository,
	collector *metrics.Collector,
	authConfig auth.Config,
	platforms []string,
	logger *slog.Logger,
) {
	handler := NewHandler(db, platforms, logger)
	authHandler := NewAuthHandler(authConfig, logger)
	adminHandler := NewAdminHandler(checkpoints, logger)

	protect := auth.Middleware(authConfig)

	mux.HandleFunc("/health", handler.Health)
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/api/admin/login", authHandler.Login)

	mux.Handle("/api/admin/checkpoints/reset", protect(http.HandlerFunc(adminHandler.ResetCheckpoints)))
	mux.Handle("/api/pipeline/status", protect(http.HandlerFunc(handler.Status)))
}
