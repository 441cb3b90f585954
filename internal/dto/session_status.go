package dto

import "time"

// SessionStatus is the response payload for the session status endpoint.
type SessionStatus struct {
	SessionID       string  `json:"session_id"`
	GateState       string  `json:"gate_state"`
	Connection      string  `json:"connection"`
	IntervalMs      int64   `json:"interval_ms"`
	LatencySamples  int     `json:"latency_samples"`
	MeanLatencyMs   float64 `json:"mean_latency_ms"`
	FramesSent      uint64  `json:"frames_sent"`
	VerdictsApplied uint64  `json:"verdicts_applied"`
}

// HistoryFilters narrow the verdict history listing.
type HistoryFilters struct {
	OnlyViolations bool
	After          time.Time
	Limit          int
}
