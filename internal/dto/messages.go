package dto

import (
	"encoding/json"
	"fmt"

	"ppemonitor/internal/models"
)

// DetectionRequest is one capture sent to the detection backend.
type DetectionRequest struct {
	Image               string  `json:"image"` // base64-encoded frame
	ConfidenceThreshold float64 `json:"confidence"`
}

// ControlFrame covers the non-detection messages multiplexed on the
// detection channel: connection ack, processing hints, keepalive and errors.
type ControlFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

const (
	ControlConnected  = "connected"
	ControlProcessing = "processing"
	ControlPing       = "ping"
	ControlPong       = "pong"
	ControlError      = "error"
)

// DetectionResponse is the backend's verdict for one frame.
type DetectionResponse struct {
	PPEStatus   map[string]bool       `json:"ppe_status"`
	Detections  []models.RawDetection `json:"detections"`
	IsCompliant bool                  `json:"is_compliant"`
	HasPerson   bool                  `json:"has_person"`
	BodyRegions []models.BodyRegion   `json:"body_regions,omitempty"`
	ImageWidth  int                   `json:"image_width,omitempty"`
	ImageHeight int                   `json:"image_height,omitempty"`
	ProcessTime float64               `json:"processing_time,omitempty"`
}

// HasDimensions reports whether the backend included the processed image
// size. Absence is non-fatal but worth logging.
func (r *DetectionResponse) HasDimensions() bool {
	return r.ImageWidth > 0 && r.ImageHeight > 0
}

// ParseDetectionResponse validates a raw detection-result message against
// the strict response contract. Messages missing required fields are
// rejected at the boundary rather than propagated as partial objects.
func ParseDetectionResponse(data []byte) (*DetectionResponse, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("unparsable detection response: %w", err)
	}

	for _, field := range []string{"ppe_status", "detections", "is_compliant"} {
		if _, ok := probe[field]; !ok {
			return nil, fmt.Errorf("detection response missing required field %q", field)
		}
	}

	var resp DetectionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("malformed detection response: %w", err)
	}

	// Older backends omit has_person; treat a response carrying detections
	// as one with a subject so the gate can still act on it.
	if _, ok := probe["has_person"]; !ok {
		resp.HasPerson = len(resp.Detections) > 0
	}

	return &resp, nil
}

// SnapshotEvent is the payload broadcast to viewer clients after every
// completed verdict.
type SnapshotEvent struct {
	Type        string                    `json:"type"`
	SessionID   string                    `json:"session_id"`
	Snapshot    models.ComplianceSnapshot `json:"snapshot"`
	HasSubject  bool                      `json:"has_subject"`
	IntervalMs  int64                     `json:"interval_ms"`
	BodyRegions []models.BodyRegion       `json:"body_regions,omitempty"`
}

// AlertEvent is broadcast when the gate pauses on a violation and on every
// configured alert repeat while still paused.
type AlertEvent struct {
	Type      string                  `json:"type"`
	SessionID string                  `json:"session_id"`
	Missing   []models.CanonicalClass `json:"missing"`
	Timestamp int64                   `json:"timestamp"`
}
