package models

// RawDetection represents one detected object in a frame as reported by the
// detection backend. Frame-scoped and immutable.
type RawDetection struct {
	Label      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

// BodyRegion is a body area located by the pose model (head, hands, feet,
// torso), used by the backend for spatial validation and forwarded to
// viewers for overlay rendering.
type BodyRegion struct {
	Name       string      `json:"name"`
	Box        []float64   `json:"bbox"`
	Keypoints  [][]float64 `json:"keypoints,omitempty"`
	Confidence float64     `json:"confidence"`
}
