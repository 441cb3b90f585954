package transport

import (
	"sync"
	"time"
)

// DefaultLadder is the reconnect delay sequence. The last value repeats for
// every further consecutive failure.
var DefaultLadder = []time.Duration{
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// Backoff walks a pre-enumerated delay ladder, one step per consecutive
// failure. Reset returns to the first step.
type Backoff struct {
	mu    sync.Mutex
	steps []time.Duration
	idx   int
}

// NewBackoff creates a Backoff over steps; empty steps fall back to
// DefaultLadder.
func NewBackoff(steps []time.Duration) *Backoff {
	if len(steps) == 0 {
		steps = DefaultLadder
	}
	return &Backoff{steps: steps}
}

// Next returns the delay for the current attempt and advances the ladder,
// capped at the last step.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.steps[b.idx]
	if b.idx < len(b.steps)-1 {
		b.idx++
	}
	return d
}

// Reset returns the ladder to its first step.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.idx = 0
	b.mu.Unlock()
}
