package handlers

import (
	"net/http"
	"strconv"
	"time"

	"ppemonitor/internal/dto"
	"ppemonitor/internal/logger"
	"ppemonitor/internal/repository"
)

// GetHistoryHandler lists stored verdicts, newest first. Query parameters:
// violations=true, after=RFC3339, limit=N.
func GetHistoryHandler(history repository.HistoryRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := &dto.HistoryFilters{
			OnlyViolations: r.URL.Query().Get("violations") == "true",
			Limit:          atoiDefault(r.URL.Query().Get("limit"), 100),
		}
		if after := r.URL.Query().Get("after"); after != "" {
			ts, err := time.Parse(time.RFC3339, after)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid 'after' timestamp")
				return
			}
			filters.After = ts
		}

		records, err := history.Recent(filters)
		if err != nil {
			logger.Error("Failed to read history: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read history")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"records": records,
			"length":  len(records),
		})
	}
}

// GetHistoryStatsHandler summarizes the verdict history.
func GetHistoryStatsHandler(history repository.HistoryRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := history.Stats()
		if err != nil {
			logger.Error("Failed to read history stats: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read stats")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// ClearHistoryHandler deletes all stored verdicts.
func ClearHistoryHandler(history repository.HistoryRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}

		if err := history.DeleteAll(); err != nil {
			logger.Error("Failed to clear history: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to clear history")
			return
		}

		logger.Info("Verdict history cleared")
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

// atoiDefault parses a positive integer with a fallback.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}
