package routes

import (
	"net/http"
	"ppemonitor/internal/config"
	"ppemonitor/internal/handlers"
	"ppemonitor/internal/logger"
	"ppemonitor/internal/metrics"
	"ppemonitor/internal/middleware"
	"ppemonitor/internal/repository"
	"ppemonitor/internal/services/ppeapi"
	"ppemonitor/internal/services/session"
	"ppemonitor/internal/services/websocket"
)

// SetupRoutes registers the control surface, the viewer websocket, history
// endpoints, health and metrics probes, and wraps the mux with the token
// authentication middleware.
func SetupRoutes(
	sess *session.Session,
	hub *websocket.HubService,
	history repository.HistoryRepository,
	api *ppeapi.Client,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *logger.Logger,
) http.Handler {
	mux := http.NewServeMux()

	// Session lifecycle
	mux.HandleFunc("/api/session/start", handlers.StartSessionHandler(sess, logger))
	mux.HandleFunc("/api/session/stop", handlers.StopSessionHandler(sess, logger))
	mux.HandleFunc("/api/session/resume", handlers.ResumeSessionHandler(sess, logger))
	mux.HandleFunc("/api/session/status", handlers.SessionStatusHandler(sess))

	// Compliance history
	mux.HandleFunc("/api/history", handlers.GetHistoryHandler(history, logger))
	mux.HandleFunc("/api/history/stats", handlers.GetHistoryStatsHandler(history, logger))
	mux.HandleFunc("/api/history/clear", handlers.ClearHistoryHandler(history, logger))

	// Live viewer feed
	mux.HandleFunc("/api/view", handlers.ViewerWebsocketHandler(hub, logger))

	// Probes
	mux.HandleFunc("/healthz", handlers.HealthHandler(sess, api, logger))
	mux.Handle("/metrics", m.Handler())

	// Log endpoints
	mux.HandleFunc("/logs/info", handlers.ShowInfoLogsHandler(cfg))
	mux.HandleFunc("/logs/warning", handlers.ShowWarningLogsHandler(cfg))
	mux.HandleFunc("/logs/error", handlers.ShowErrorLogsHandler(cfg))

	mux.HandleFunc("/logs/info/clear", handlers.ClearInfoLogsHandler(logger))
	mux.HandleFunc("/logs/warning/clear", handlers.ClearWarningLogsHandler(logger))
	mux.HandleFunc("/logs/error/clear", handlers.ClearErrorLogsHandler(logger))

	return middleware.TokenAuth(cfg.APIToken, mux)
}
