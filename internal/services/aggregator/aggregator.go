package aggregator

import (
	"math"
	"time"

	"ppemonitor/internal/models"
	"ppemonitor/internal/services/normalizer"
)

// Aggregator folds one frame's raw detections into per-class aggregates and
// a compliance snapshot against the required-equipment set.
type Aggregator struct {
	norm     *normalizer.Normalizer
	required []models.CanonicalClass
}

// New creates an Aggregator. required must be given in canonical order; the
// missing set of every snapshot is emitted in that order.
func New(norm *normalizer.Normalizer, required []models.CanonicalClass) *Aggregator {
	return &Aggregator{norm: norm, required: required}
}

// Required returns the required-equipment set.
func (a *Aggregator) Required() []models.CanonicalClass {
	return a.required
}

// Aggregate normalizes and groups detections, then derives the compliance
// verdict. Classes with zero detections are absent from the aggregates;
// absence is the "not detected" signal.
func (a *Aggregator) Aggregate(detections []models.RawDetection) (models.ComplianceSnapshot, []models.ClassAggregate) {
	groups := make(map[models.CanonicalClass][]models.RawDetection)
	for _, det := range detections {
		class, ok := a.norm.Normalize(det.Label)
		if !ok {
			continue
		}
		groups[class] = append(groups[class], det)
	}

	aggregates := make([]models.ClassAggregate, 0, len(groups))
	for _, class := range a.required {
		members, ok := groups[class]
		if !ok {
			continue
		}
		sum := 0.0
		for _, m := range members {
			sum += m.Confidence
		}
		aggregates = append(aggregates, models.ClassAggregate{
			Class:          class,
			Count:          len(members),
			MeanConfidence: sum / float64(len(members)),
			Members:        members,
		})
	}

	present := make(map[models.CanonicalClass]bool, len(a.required))
	missing := make([]models.CanonicalClass, 0)
	for _, class := range a.required {
		if len(groups[class]) > 0 {
			present[class] = true
		} else {
			missing = append(missing, class)
		}
	}

	rate := 0.0
	if len(a.required) > 0 {
		rate = float64(len(present)) / float64(len(a.required))
	}

	snapshot := models.ComplianceSnapshot{
		PerClassPresent: present,
		Missing:         missing,
		CompletionRate:  roundRate(rate),
		IsCompliant:     len(missing) == 0,
		Timestamp:       time.Now(),
	}

	return snapshot, aggregates
}

// roundRate renders the completion rate with fixed two-decimal precision.
func roundRate(r float64) float64 {
	return math.Round(r*100) / 100
}
