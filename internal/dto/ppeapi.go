package dto

import "ppemonitor/internal/models"

// DetectRequest is the body for the aggregation service's POST endpoints.
type DetectRequest struct {
	Image      string  `json:"image"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ValidationBlock is the compliance summary returned by /detect and /validate.
type ValidationBlock struct {
	IsComplete     bool     `json:"isComplete"`
	Detected       []string `json:"detected"`
	Missing        []string `json:"missing"`
	CompletionRate float64  `json:"completionRate"`
}

// DetectResult is the response of POST /detect.
type DetectResult struct {
	DetectionsByClass map[string][]models.RawDetection `json:"detections_by_class"`
	Validation        ValidationBlock                  `json:"validation"`
}

// ValidateResult is the response of POST /validate: the validation block
// plus a human-readable status message.
type ValidateResult struct {
	Validation ValidationBlock `json:"validation"`
	Status     string          `json:"status"`
}

// ClassConfig is the response of GET /config: the canonical class list and
// its required cardinality.
type ClassConfig struct {
	Classes  []string `json:"classes"`
	Required int      `json:"required"`
}

// ServiceHealth is the response of GET /health.
type ServiceHealth struct {
	Status            string `json:"status"`
	Ready             bool   `json:"ready"`
	UpstreamConfigured bool  `json:"upstream_configured"`
}
