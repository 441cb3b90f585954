package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"ppemonitor/internal/config"
	"ppemonitor/internal/dto"
	"ppemonitor/internal/logger"
	"ppemonitor/internal/metrics"
	"ppemonitor/internal/models"
	"ppemonitor/internal/services/aggregator"
	"ppemonitor/internal/services/normalizer"
	"ppemonitor/internal/services/transport"
)

// fakeTransport satisfies Transport without a network. Sends are recorded
// and announced on sentCh so tests can answer them.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	seq       uint64
	sent      int
	sentCh    chan uint64
	events    chan transport.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sentCh: make(chan uint64, 100),
		events: make(chan transport.Event, 100),
	}
}

func (f *fakeTransport) Connect() error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.events <- transport.Event{Type: transport.EventConnected}
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Send(imageB64 string, threshold float64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return 0, transport.ErrNotConnected
	}
	f.seq++
	f.sent++
	f.sentCh <- f.seq
	return f.seq, nil
}

func (f *fakeTransport) Events() <-chan transport.Event {
	return f.events
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func (f *fakeTransport) pushResult(seq uint64, resp *dto.DetectionResponse) {
	f.events <- transport.Event{Type: transport.EventResult, Seq: seq, Result: resp}
}

type fakeSource struct{}

func (fakeSource) Capture() ([]byte, error) {
	return []byte("frame"), nil
}

// fakeHistory records appended verdicts.
type fakeHistory struct {
	mu      sync.Mutex
	records []models.HistoryRecord
}

func (h *fakeHistory) Append(rec *models.HistoryRecord) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *rec)
	return int64(len(h.records)), nil
}

func (h *fakeHistory) Recent(*dto.HistoryFilters) ([]models.HistoryRecord, error) {
	return nil, nil
}
func (h *fakeHistory) Stats() (*models.HistoryStats, error) { return &models.HistoryStats{}, nil }
func (h *fakeHistory) Count() (int, error)                  { return 0, nil }
func (h *fakeHistory) DeleteAll() error                     { return nil }

func (h *fakeHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// fakeHub collects broadcast payloads.
type fakeHub struct {
	mu       sync.Mutex
	messages [][]byte
}

func (h *fakeHub) Broadcast(message []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, message)
	h.mu.Unlock()
}

func (h *fakeHub) alerts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, msg := range h.messages {
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &probe) == nil && probe.Type == "alert" {
			n++
		}
	}
	return n
}

type harness struct {
	session   *Session
	transport *fakeTransport
	history   *fakeHistory
	hub       *fakeHub
}

func newHarness(t *testing.T, required []models.CanonicalClass) *harness {
	t.Helper()

	ft := newFakeTransport()
	history := &fakeHistory{}
	hub := &fakeHub{}
	agg := aggregator.New(normalizer.New(models.AllClasses), required)
	log := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})

	s := New(Options{
		Threshold:       0.5,
		DefaultInterval: 20 * time.Millisecond,
		ConfirmFrames:   1,
	}, ft, fakeSource{}, agg, history, hub, nil, nil, log, metrics.New())

	t.Cleanup(func() { s.Stop() })

	return &harness{session: s, transport: ft, history: history, hub: hub}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) awaitSend(t *testing.T) uint64 {
	t.Helper()
	select {
	case seq := <-h.transport.sentCh:
		return seq
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a capture send")
		return 0
	}
}

func compliantResponse(labels ...string) *dto.DetectionResponse {
	dets := make([]models.RawDetection, len(labels))
	for i, l := range labels {
		dets[i] = models.RawDetection{Label: l, Confidence: 0.9, Box: []float64{0, 0, 1, 1}}
	}
	return &dto.DetectionResponse{
		PPEStatus:   map[string]bool{},
		Detections:  dets,
		IsCompliant: true,
		HasPerson:   true,
		ImageWidth:  640,
		ImageHeight: 480,
	}
}

func emptySceneResponse() *dto.DetectionResponse {
	return &dto.DetectionResponse{
		PPEStatus:   map[string]bool{},
		Detections:  nil,
		IsCompliant: false,
		HasPerson:   false,
		ImageWidth:  640,
		ImageHeight: 480,
	}
}

func TestSession_ViolationPausesUntilResume(t *testing.T) {
	h := newHarness(t, []models.CanonicalClass{models.ClassHelmet, models.ClassGoggles})
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	seq := h.awaitSend(t)
	// Helmet present, goggles missing: single non-compliant verdict.
	h.transport.pushResult(seq, compliantResponse("helmet"))

	waitFor(t, "gate to pause", func() bool {
		return h.session.Status().GateState == "paused"
	})

	if h.hub.alerts() == 0 {
		t.Error("expected an alert broadcast on pause")
	}
	if h.history.len() != 1 {
		t.Errorf("expected 1 history record, got %d", h.history.len())
	}

	// No further captures may fire while paused.
	sentBefore := h.transport.sentCount()
	time.Sleep(150 * time.Millisecond)
	if got := h.transport.sentCount(); got != sentBefore {
		t.Errorf("captures fired while paused: %d -> %d", sentBefore, got)
	}

	if err := h.session.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	h.awaitSend(t)
}

func TestSession_EmptySceneNeverPauses(t *testing.T) {
	h := newHarness(t, []models.CanonicalClass{models.ClassHelmet})
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	seq := h.awaitSend(t)
	h.transport.pushResult(seq, emptySceneResponse())

	// The next capture proves the gate stayed armed.
	h.awaitSend(t)

	if got := h.session.Status().GateState; got != "armed" {
		t.Errorf("expected armed, got %s", got)
	}
	if h.hub.alerts() != 0 {
		t.Error("empty scene must not alert")
	}
	if h.history.len() != 0 {
		t.Errorf("empty scene must not append history, got %d records", h.history.len())
	}
}

func TestSession_StaleResponseDiscarded(t *testing.T) {
	h := newHarness(t, []models.CanonicalClass{models.ClassHelmet})
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	seq := h.awaitSend(t)

	// A response for a different sequence number must be dropped without a
	// state transition.
	h.transport.pushResult(seq+40, compliantResponse())
	waitFor(t, "stale response counter", func() bool {
		return h.session.metrics.StaleResponses.Load() >= 1
	})

	if got := h.session.metrics.VerdictsTotal.Load(); got != 0 {
		t.Errorf("stale response was applied: %d verdicts", got)
	}
	if got := h.session.Status().GateState; got != "armed" {
		t.Errorf("expected armed, got %s", got)
	}
}

func TestSession_AdaptiveIntervalSurvivesResume(t *testing.T) {
	h := newHarness(t, []models.CanonicalClass{models.ClassHelmet})
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Answer five captures immediately; the near-zero round trips select
	// the fast tier.
	for i := 0; i < 5; i++ {
		seq := h.awaitSend(t)
		h.transport.pushResult(seq, compliantResponse("helmet"))
		waitFor(t, "verdict applied", func() bool {
			return h.session.metrics.VerdictsTotal.Load() == uint64(i+1)
		})
	}

	status := h.session.Status()
	if status.IntervalMs != 1000 {
		t.Fatalf("expected fast tier 1000ms after 5 samples, got %d", status.IntervalMs)
	}
	if status.LatencySamples != 5 {
		t.Fatalf("expected 5 latency samples, got %d", status.LatencySamples)
	}

	// Pause via violation, then resume: the adaptive interval and latency
	// history must survive.
	seq := h.awaitSend(t)
	h.transport.pushResult(seq, &dto.DetectionResponse{
		PPEStatus:   map[string]bool{},
		Detections:  nil,
		IsCompliant: false,
		HasPerson:   true,
	})
	waitFor(t, "gate to pause", func() bool {
		return h.session.Status().GateState == "paused"
	})

	if err := h.session.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	status = h.session.Status()
	if status.IntervalMs != 1000 {
		t.Errorf("resume must keep the adaptive interval, got %d", status.IntervalMs)
	}
	if status.LatencySamples != 6 {
		t.Errorf("resume must keep latency history, got %d samples", status.LatencySamples)
	}
}

func TestSession_StopResetsSchedulerState(t *testing.T) {
	h := newHarness(t, []models.CanonicalClass{models.ClassHelmet})
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		seq := h.awaitSend(t)
		h.transport.pushResult(seq, compliantResponse("helmet"))
		waitFor(t, "verdict applied", func() bool {
			return h.session.metrics.VerdictsTotal.Load() == uint64(i+1)
		})
	}

	if err := h.session.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	status := h.session.Status()
	if status.GateState != "idle" {
		t.Errorf("expected idle after stop, got %s", status.GateState)
	}
	if status.IntervalMs != 20 {
		t.Errorf("stop must reset the interval to its default, got %d", status.IntervalMs)
	}
	if status.LatencySamples != 0 {
		t.Errorf("stop must clear latency history, got %d samples", status.LatencySamples)
	}

	// No orphaned timer may fire after teardown.
	drainSends(h.transport)
	time.Sleep(100 * time.Millisecond)
	if len(h.transport.sentCh) != 0 {
		t.Error("capture fired after stop")
	}

	// An immediate restart observes the default tier again.
	if err := h.session.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if got := h.session.Status().IntervalMs; got != 20 {
		t.Errorf("restart must begin at the default interval, got %d", got)
	}
}

func TestSession_SkipsWhileDisconnected(t *testing.T) {
	h := newHarness(t, []models.CanonicalClass{models.ClassHelmet})
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	h.awaitSend(t)
	h.transport.Disconnect()
	drainSends(h.transport)

	// Cycles keep running but captures are skipped, not queued.
	waitFor(t, "skipped captures", func() bool {
		return h.session.metrics.FramesSkipped.Load() >= 2
	})
	if len(h.transport.sentCh) != 0 {
		t.Error("frames were sent while disconnected")
	}
}

func TestSession_ResumeRequiresPause(t *testing.T) {
	h := newHarness(t, []models.CanonicalClass{models.ClassHelmet})

	if err := h.session.Resume(); err != ErrNotRunning {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}

	if err := h.session.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.session.Resume(); err != ErrNotPaused {
		t.Errorf("expected ErrNotPaused, got %v", err)
	}
}

func TestSession_UnansweredRequestTimesOut(t *testing.T) {
	ft := newFakeTransport()
	agg := aggregator.New(normalizer.New(models.AllClasses), []models.CanonicalClass{models.ClassHelmet})
	log := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})

	s := New(Options{
		Threshold:       0.5,
		DefaultInterval: 20 * time.Millisecond,
		ResponseTimeout: 60 * time.Millisecond,
		ConfirmFrames:   1,
	}, ft, fakeSource{}, agg, nil, nil, nil, nil, log, metrics.New())
	t.Cleanup(func() { s.Stop() })

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var first uint64
	select {
	case first = <-ft.sentCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the first capture send")
	}

	// The backend never answers. Once the in-flight request outlives the
	// response timeout, capturing must resume on its own.
	var second uint64
	select {
	case second = <-ft.sentCh:
	case <-time.After(3 * time.Second):
		t.Fatal("captures never resumed after an unanswered request")
	}
	if second <= first {
		t.Fatalf("expected a fresh sequence after the timeout, got %d after %d", second, first)
	}

	// The abandoned request's late answer is stale; the live one applies.
	ft.pushResult(first, compliantResponse("helmet"))
	ft.pushResult(second, compliantResponse("helmet"))

	waitFor(t, "the live verdict to apply", func() bool {
		return s.Status().VerdictsApplied == 1
	})
}

func drainSends(f *fakeTransport) {
	for {
		select {
		case <-f.sentCh:
		default:
			return
		}
	}
}
