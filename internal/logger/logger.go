package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"ppemonitor/internal/config"
)

// Per-level file names under the configured log directory. The log HTTP
// endpoints serve and truncate these files by name.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger is the monitor's leveled log sink. Each level appends to its own
// file and echoes to the console, so a headless deployment keeps a readable
// journal while the files back the /logs endpoints.
type Logger struct {
	mu     sync.Mutex
	info   *log.Logger
	warn   *log.Logger
	err    *log.Logger
	logDir string
}

// NewLogger creates the log directory and opens the per-level sinks. A
// directory that cannot be created is fatal: a monitor that cannot record
// violations should not run.
func NewLogger(cfg *config.Config) *Logger {
	if err := os.MkdirAll(cfg.LogDirectory, 0755); err != nil {
		log.Fatalf("Failed to create log directory %s: %v", cfg.LogDirectory, err)
	}

	return &Logger{
		logDir: cfg.LogDirectory,
		info:   newLevel(cfg.LogDirectory, InfoFile, "INFO  ", os.Stdout),
		warn:   newLevel(cfg.LogDirectory, WarningFile, "WARN  ", os.Stdout),
		err:    newLevel(cfg.LogDirectory, ErrorFile, "ERROR ", os.Stderr),
	}
}

// newLevel opens one append-only level file and tees it with the console.
func newLevel(dir, name, prefix string, console io.Writer) *log.Logger {
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file %s: %v", name, err)
	}
	return log.New(io.MultiWriter(console, file), prefix, log.Ldate|log.Ltime)
}

// Info records routine session activity.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info.Printf(format, v...)
}

// Warning records degraded but recoverable conditions: reconnects, dropped
// frames, shape violations.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warn.Printf(format, v...)
}

// Error records failures and compliance violations.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err.Printf(format, v...)
}

// CleanLogs truncates the named level file in place; the open writer keeps
// appending to the truncated file.
func (l *Logger) CleanLogs(fileName string) error {
	path := filepath.Join(l.logDir, fileName)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		l.Error("Failed to truncate %s: %v", fileName, err)
		return fmt.Errorf("failed to truncate %s: %w", fileName, err)
	}
	file.Close()

	l.Info("Log file %s cleared", fileName)
	return nil
}
