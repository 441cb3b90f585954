package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ppemonitor/internal/config"
	"ppemonitor/internal/logger"
)

// ShowInfoLogsHandler serves the info log, optionally tailed via ?tail=N.
func ShowInfoLogsHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveLogFile(w, r, cfg.LogDirectory, logger.InfoFile)
	}
}

// ShowWarningLogsHandler serves the warning log.
func ShowWarningLogsHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveLogFile(w, r, cfg.LogDirectory, logger.WarningFile)
	}
}

// ShowErrorLogsHandler serves the error log, where violations land.
func ShowErrorLogsHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveLogFile(w, r, cfg.LogDirectory, logger.ErrorFile)
	}
}

func serveLogFile(w http.ResponseWriter, r *http.Request, logDir, filename string) {
	filePath := filepath.Join(logDir, filename)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	if tail := r.URL.Query().Get("tail"); tail != "" {
		n, err := strconv.Atoi(tail)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid 'tail' value")
			return
		}
		data, err := os.ReadFile(filePath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(tailLines(string(data), n)))
		return
	}

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filePath)
}

// tailLines returns the last n lines of content, preserving the trailing
// newline when present.
func tailLines(content string, n int) string {
	trimmed := strings.TrimRight(content, "\n")
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}

// ClearInfoLogsHandler truncates the info log.
func ClearInfoLogsHandler(log *logger.Logger) http.HandlerFunc {
	return clearLogHandler(log, logger.InfoFile)
}

// ClearWarningLogsHandler truncates the warning log.
func ClearWarningLogsHandler(log *logger.Logger) http.HandlerFunc {
	return clearLogHandler(log, logger.WarningFile)
}

// ClearErrorLogsHandler truncates the error log.
func ClearErrorLogsHandler(log *logger.Logger) http.HandlerFunc {
	return clearLogHandler(log, logger.ErrorFile)
}

func clearLogHandler(log *logger.Logger, filename string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}
		if err := log.CleanLogs(filename); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to clear log")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "file": filename})
	}
}
