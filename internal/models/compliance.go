package models

import "time"

// CanonicalClass is one of the fixed equipment categories tracked by the
// monitor. The set is closed; adding a category is a configuration change.
type CanonicalClass string

const (
	ClassHelmet  CanonicalClass = "helmet"
	ClassGoggles CanonicalClass = "goggles"
	ClassGloves  CanonicalClass = "gloves"
	ClassBoots   CanonicalClass = "boots"
	ClassVest    CanonicalClass = "vest"
	ClassShirt   CanonicalClass = "shirt"
	ClassPants   CanonicalClass = "pants"
	ClassMask    CanonicalClass = "mask"
)

// AllClasses lists every canonical class in its fixed display order.
// Missing-equipment sets are always emitted in this order.
var AllClasses = []CanonicalClass{
	ClassHelmet,
	ClassGoggles,
	ClassGloves,
	ClassBoots,
	ClassVest,
	ClassShirt,
	ClassPants,
	ClassMask,
}

// ParseClass returns the canonical class for name, or false when name is not
// part of the closed set.
func ParseClass(name string) (CanonicalClass, bool) {
	for _, c := range AllClasses {
		if string(c) == name {
			return c, true
		}
	}
	return "", false
}

// ClassAggregate groups one frame's detections of a single canonical class.
type ClassAggregate struct {
	Class          CanonicalClass `json:"class"`
	Count          int            `json:"count"`
	MeanConfidence float64        `json:"mean_confidence"`
	Members        []RawDetection `json:"members,omitempty"`
}

// ComplianceSnapshot is the verdict produced from one frame's aggregated
// detections. Invariant: IsCompliant is true exactly when Missing is empty.
type ComplianceSnapshot struct {
	PerClassPresent map[CanonicalClass]bool `json:"per_class_present"`
	Missing         []CanonicalClass        `json:"missing"`
	CompletionRate  float64                 `json:"completion_rate"`
	IsCompliant     bool                    `json:"is_compliant"`
	Timestamp       time.Time               `json:"timestamp"`
}
