package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the session counters exported on /metrics.
type Metrics struct {
	FramesSent       atomic.Uint64
	FramesSkipped    atomic.Uint64 // captures skipped (in flight, gate, disconnected)
	FramesOversized  atomic.Uint64
	Reconnects       atomic.Uint64
	KeepalivesSent   atomic.Uint64
	ControlFrames    atomic.Uint64
	MalformedFrames  atomic.Uint64
	StaleResponses   atomic.Uint64
	VerdictsTotal    atomic.Uint64
	VerdictsNoSubject atomic.Uint64
	Violations       atomic.Uint64
	AlertsEmitted    atomic.Uint64

	// Last observed values, exported as gauges.
	RoundTripMs       atomic.Uint64
	CurrentIntervalMs atomic.Uint64
	ConnectedFlag     atomic.Uint64 // 0 or 1
	PausedFlag        atomic.Uint64 // 0 or 1

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	counters := []struct {
		name string
		help string
		load func() float64
	}{
		{"ppe_frames_sent_total", "Frames sent to the detection backend", load(&m.FramesSent)},
		{"ppe_frames_skipped_total", "Captures skipped by the scheduler", load(&m.FramesSkipped)},
		{"ppe_frames_oversized_total", "Frames rejected by the payload ceiling", load(&m.FramesOversized)},
		{"ppe_reconnects_total", "Transport reconnect attempts", load(&m.Reconnects)},
		{"ppe_keepalives_sent_total", "Keepalive pings sent", load(&m.KeepalivesSent)},
		{"ppe_control_frames_total", "Control frames consumed", load(&m.ControlFrames)},
		{"ppe_malformed_frames_total", "Backend messages failing shape validation", load(&m.MalformedFrames)},
		{"ppe_stale_responses_total", "Responses discarded by the stale guard", load(&m.StaleResponses)},
		{"ppe_verdicts_total", "Verdicts applied to the gate", load(&m.VerdictsTotal)},
		{"ppe_verdicts_no_subject_total", "Frames with no subject present", load(&m.VerdictsNoSubject)},
		{"ppe_violations_total", "Non-compliant verdicts", load(&m.Violations)},
		{"ppe_alerts_emitted_total", "Alerts emitted by the compliance gate", load(&m.AlertsEmitted)},
		{"ppe_round_trip_ms", "Most recent capture round trip in milliseconds", load(&m.RoundTripMs)},
		{"ppe_capture_interval_ms", "Current adaptive capture interval in milliseconds", load(&m.CurrentIntervalMs)},
		{"ppe_transport_connected", "Whether the backend connection is open", load(&m.ConnectedFlag)},
		{"ppe_gate_paused", "Whether the compliance gate is paused", load(&m.PausedFlag)},
	}

	for _, c := range counters {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: c.name, Help: c.help},
			c.load,
		))
	}
}

func load(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// SetConnected records the transport connection state.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.ConnectedFlag.Store(1)
	} else {
		m.ConnectedFlag.Store(0)
	}
}

// SetPaused records the gate pause state.
func (m *Metrics) SetPaused(paused bool) {
	if paused {
		m.PausedFlag.Store(1)
	} else {
		m.PausedFlag.Store(0)
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
