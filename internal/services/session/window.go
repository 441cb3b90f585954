package session

import "time"

const (
	windowCapacity    = 10
	minSamplesForTier = 5
)

// Latency tier boundaries and the interval each tier maps to.
const (
	fastLatency = 300 * time.Millisecond
	slowLatency = 600 * time.Millisecond

	fastInterval = 1000 * time.Millisecond
	midInterval  = 1500 * time.Millisecond
	slowInterval = 2500 * time.Millisecond
)

// latencyWindow is a bounded rolling window of the most recent capture
// round trips.
type latencyWindow struct {
	samples []time.Duration
}

func (w *latencyWindow) Add(d time.Duration) {
	if len(w.samples) == windowCapacity {
		copy(w.samples, w.samples[1:])
		w.samples[windowCapacity-1] = d
		return
	}
	w.samples = append(w.samples, d)
}

func (w *latencyWindow) Len() int {
	return len(w.samples)
}

func (w *latencyWindow) Mean() time.Duration {
	if len(w.samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range w.samples {
		sum += s
	}
	return sum / time.Duration(len(w.samples))
}

func (w *latencyWindow) Reset() {
	w.samples = w.samples[:0]
}

// IntervalFor maps the mean round trip onto a discrete capture interval.
// Until enough samples exist the default interval wins regardless of the
// sample values.
func (w *latencyWindow) IntervalFor(def time.Duration) time.Duration {
	if len(w.samples) < minSamplesForTier {
		return def
	}
	mean := w.Mean()
	switch {
	case mean < fastLatency:
		return fastInterval
	case mean < slowLatency:
		return midInterval
	default:
		return slowInterval
	}
}
