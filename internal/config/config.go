package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                int
	BackendURL          string // websocket URL of the detection backend
	PPEAPIURL           string // optional REST aggregation collaborator
	ConfidenceThreshold float64
	RequiredClasses     []string // empty means the full canonical set

	CameraDevice int
	MaxFrameMB   int // hard ceiling for one encoded frame

	DefaultIntervalMs      int
	PingIntervalSec        int
	StabilityWindowSec     int
	AlertRepeatSec         int // 0 disables alert repetition while paused
	ViolationConfirmFrames int // consecutive violations before pausing

	DBPath       string
	HistoryLimit int // bounded history sink capacity

	EvidenceDirectory     string
	EvidenceBufferLimit   int
	EvidenceFlushInterval int

	LogDirectory string
	APIToken     string // empty disables control-surface auth
}

func Load() *Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnvAsInt("PORT", 8080),
		BackendURL:          getEnv("BACKEND_WS_URL", "ws://localhost:8000/api/ws/detect"),
		PPEAPIURL:           getEnv("PPE_API_URL", ""),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		RequiredClasses:     getEnvAsList("REQUIRED_CLASSES"),

		CameraDevice: getEnvAsInt("CAMERA_DEVICE", 0),
		MaxFrameMB:   getEnvAsInt("MAX_FRAME_MB", 5),

		DefaultIntervalMs:      getEnvAsInt("DEFAULT_INTERVAL_MS", 1500),
		PingIntervalSec:        getEnvAsInt("PING_INTERVAL", 30),
		StabilityWindowSec:     getEnvAsInt("STABILITY_WINDOW", 300),
		AlertRepeatSec:         getEnvAsInt("ALERT_REPEAT_INTERVAL", 0),
		ViolationConfirmFrames: getEnvAsInt("VIOLATION_CONFIRM_FRAMES", 1),

		DBPath:       getEnv("DB_PATH", filepath.Join(".", "data", "history.db")),
		HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 1000),

		EvidenceDirectory:     getEnv("EVIDENCE_DIR", filepath.Join(".", "evidence")),
		EvidenceBufferLimit:   getEnvAsInt("EVIDENCE_BUFFER_LIMIT", 7),
		EvidenceFlushInterval: getEnvAsInt("EVIDENCE_FLUSH_INTERVAL", 30),

		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		APIToken:     getEnv("API_TOKEN", ""),
	}
}

// DefaultInterval returns the scheduler interval used before enough latency
// samples exist.
func (c *Config) DefaultInterval() time.Duration {
	return time.Duration(c.DefaultIntervalMs) * time.Millisecond
}

// MaxFrameBytes returns the oversized-payload ceiling in bytes.
func (c *Config) MaxFrameBytes() int {
	return c.MaxFrameMB * 1024 * 1024
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
