package handlers

import (
	"encoding/json"
	"net/http"

	"ppemonitor/internal/logger"
	"ppemonitor/internal/services/session"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// StartSessionHandler arms the gate and begins monitoring.
func StartSessionHandler(sess *session.Session, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}

		if err := sess.Start(); err != nil {
			logger.Warning("Start rejected: %v", err)
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, sess.Status())
	}
}

// StopSessionHandler ends the monitoring run and resets scheduler state.
func StopSessionHandler(sess *session.Session, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}

		if err := sess.Stop(); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, sess.Status())
	}
}

// ResumeSessionHandler is the explicit human acknowledgement that re-arms
// the scheduler after a violation pause.
func ResumeSessionHandler(sess *session.Session, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}

		if err := sess.Resume(); err != nil {
			logger.Warning("Resume rejected: %v", err)
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		logger.Info("Violation acknowledged, session resumed")
		writeJSON(w, http.StatusOK, sess.Status())
	}
}

// SessionStatusHandler reports the current gate, connection and scheduler
// state.
func SessionStatusHandler(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Status())
	}
}
