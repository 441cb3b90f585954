package models

import "time"

// ConnState describes the transport connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// GateState describes the compliance gate. Idle is the rest state, Armed
// means the scheduler is running, Paused means a violation halted sampling
// and an explicit resume is required.
type GateState int

const (
	GateIdle GateState = iota
	GateArmed
	GatePaused
)

func (s GateState) String() string {
	switch s {
	case GateArmed:
		return "armed"
	case GatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// HistoryRecord is an immutable verdict snapshot appended to the history
// sink. Ownership transfers to the sink on append; the session never reads
// records back.
type HistoryRecord struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	IsCompliant    bool      `json:"is_compliant"`
	CompletionRate float64   `json:"completion_rate"`
	Missing        string    `json:"missing"` // comma-joined canonical names
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryStats summarizes the stored verdict history.
type HistoryStats struct {
	TotalRecords  int            `json:"total_records"`
	Violations    int            `json:"violations"`
	MissingCounts map[string]int `json:"missing_counts"`
}
