package handlers

import (
	"context"
	"net/http"
	"time"

	"ppemonitor/internal/logger"
	"ppemonitor/internal/services/ppeapi"
	"ppemonitor/internal/services/session"
)

// HealthHandler reports process readiness plus the state of the optional
// aggregation collaborator.
func HealthHandler(sess *session.Session, api *ppeapi.Client, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]interface{}{
			"status":  "ok",
			"session": sess.Status(),
		}

		if api != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()

			health, err := api.Health(ctx)
			if err != nil {
				logger.Warning("Aggregation service health check failed: %v", err)
				payload["aggregation_service"] = map[string]interface{}{"status": "unavailable"}
			} else {
				payload["aggregation_service"] = health
			}
		}

		writeJSON(w, http.StatusOK, payload)
	}
}
