package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"ppemonitor/internal/dto"
	"ppemonitor/internal/logger"
	"ppemonitor/internal/metrics"
	"ppemonitor/internal/models"
	"ppemonitor/internal/repository"
	"ppemonitor/internal/services/aggregator"
	"ppemonitor/internal/services/transport"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRunning = errors.New("session: already running")
	ErrNotRunning     = errors.New("session: not running")
	ErrNotPaused      = errors.New("session: not paused")
)

// Transport is the connection the session drives. Implemented by
// transport.Client.
type Transport interface {
	Connect() error
	Disconnect()
	Connected() bool
	Send(imageB64 string, threshold float64) (uint64, error)
	Events() <-chan transport.Event
}

// FrameSource produces one encoded frame per capture.
type FrameSource interface {
	Capture() ([]byte, error)
}

// Annotator draws detections onto a frame for evidence storage.
type Annotator interface {
	Annotate(frame []byte, detections []models.RawDetection) ([]byte, error)
}

// Evidence receives annotated violation frames.
type Evidence interface {
	AddFrame(data []byte, label string)
}

// Broadcaster pushes verdicts and alerts to viewer clients.
type Broadcaster interface {
	Broadcast(message []byte)
}

// Options tune one monitoring session.
type Options struct {
	Threshold       float64
	DefaultInterval time.Duration
	AlertRepeat     time.Duration // 0 disables repetition while paused
	ResponseTimeout time.Duration // how long one request may stay in flight
	ConfirmFrames   int
}

const defaultResponseTimeout = 10 * time.Second

// Session is the real-time detection session manager: it owns the gate, the
// adaptive scheduler state and the stale-response guard, and it is the only
// writer of all of them. Every state transition happens under one mutex.
type Session struct {
	opts      Options
	transport Transport
	source    FrameSource
	annotator Annotator
	evidence  Evidence
	agg       *aggregator.Aggregator
	history   repository.HistoryRepository
	hub       Broadcaster
	logger    *logger.Logger
	metrics   *metrics.Metrics

	mu         sync.Mutex
	id         string
	gate       *Gate
	window     latencyWindow
	interval   time.Duration
	inFlight   bool
	awaitSeq   uint64
	sentAt     time.Time
	lastFrame  []byte
	timer      *time.Timer
	alertTimer *time.Timer
	running    bool
	done       chan struct{}
}

// New wires a Session. annotator, evidence, history and hub may be nil;
// the corresponding side effects are skipped.
func New(opts Options, tr Transport, source FrameSource, agg *aggregator.Aggregator,
	history repository.HistoryRepository, hub Broadcaster, annotator Annotator,
	evidence Evidence, log *logger.Logger, m *metrics.Metrics) *Session {

	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = midInterval
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = defaultResponseTimeout
	}

	return &Session{
		opts:      opts,
		transport: tr,
		source:    source,
		annotator: annotator,
		evidence:  evidence,
		agg:       agg,
		history:   history,
		hub:       hub,
		logger:    log,
		metrics:   m,
		gate:      NewGate(opts.ConfirmFrames),
		interval:  opts.DefaultInterval,
	}
}

// ID returns the identifier of the current run, empty while idle.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Start arms the gate, connects the transport and schedules the first
// capture.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if !s.gate.Arm() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.id = uuid.NewString()
	s.done = make(chan struct{})
	done := s.done
	s.metrics.SetPaused(false)
	s.metrics.CurrentIntervalMs.Store(uint64(s.interval.Milliseconds()))
	s.scheduleLocked(s.interval)
	s.mu.Unlock()

	s.logger.Info("Session %s started", s.id)

	go s.eventLoop(done)

	if err := s.transport.Connect(); err != nil {
		// The transport keeps retrying on its own; the session stays armed
		// and captures resume once a connection exists.
		s.logger.Warning("Initial connect failed, transport will retry: %v", err)
	}
	return nil
}

// Resume re-arms the scheduler after a violation pause, keeping the current
// adaptive interval and latency history.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}
	if !s.gate.Resume() {
		return ErrNotPaused
	}

	s.cancelAlertLocked()
	s.metrics.SetPaused(false)
	s.scheduleLocked(s.interval)
	s.logger.Info("Session %s resumed at interval %s", s.id, s.interval)
	return nil
}

// Stop ends the run: the gate returns to Idle, latency history is cleared,
// the interval resets to its default and no pending timer survives.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.gate.Stop()
	s.cancelCaptureLocked()
	s.cancelAlertLocked()
	s.window.Reset()
	s.interval = s.opts.DefaultInterval
	s.inFlight = false
	s.metrics.SetPaused(false)
	s.metrics.CurrentIntervalMs.Store(uint64(s.interval.Milliseconds()))
	close(s.done)
	id := s.id
	s.id = ""
	s.mu.Unlock()

	s.transport.Disconnect()
	s.logger.Info("Session %s stopped", id)
	return nil
}

// Status reports the session's observable state.
func (s *Session) Status() dto.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := models.Disconnected
	if s.transport.Connected() {
		conn = models.Connected
	}

	return dto.SessionStatus{
		SessionID:       s.id,
		GateState:       s.gate.State().String(),
		Connection:      conn.String(),
		IntervalMs:      s.interval.Milliseconds(),
		LatencySamples:  s.window.Len(),
		MeanLatencyMs:   float64(s.window.Mean().Microseconds()) / 1000.0,
		FramesSent:      s.metrics.FramesSent.Load(),
		VerdictsApplied: s.metrics.VerdictsTotal.Load(),
	}
}

// eventLoop consumes the transport's event channel until the run stops.
func (s *Session) eventLoop(done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-s.transport.Events():
			switch ev.Type {
			case transport.EventConnected:
				// Nothing to do; the next scheduled cycle sends.
			case transport.EventDisconnected:
				s.mu.Lock()
				// An outstanding request will never be answered.
				s.inFlight = false
				s.mu.Unlock()
			case transport.EventResult:
				s.onResult(ev)
			}
		}
	}
}

// capture runs one scheduler cycle: maybe send a frame, then reschedule
// exactly once for the then-current interval.
func (s *Session) capture() {
	s.mu.Lock()
	if !s.running || s.gate.State() != models.GateArmed {
		// A capture must never fire while paused or stopped.
		s.mu.Unlock()
		return
	}
	if s.inFlight && time.Since(s.sentAt) > s.opts.ResponseTimeout {
		// The answer was lost somewhere; give up on it so captures keep
		// flowing on an otherwise healthy connection.
		s.logger.Warning("Request %d unanswered after %s, abandoning it", s.awaitSeq, s.opts.ResponseTimeout)
		s.inFlight = false
	}
	if s.source == nil || s.inFlight || !s.transport.Connected() {
		// Latest-frame-only semantics: skip, never queue a backlog.
		s.metrics.FramesSkipped.Add(1)
		s.scheduleLocked(s.interval)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	frame, err := s.source.Capture()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.gate.State() != models.GateArmed {
		return
	}

	if err != nil {
		s.logger.Error("Frame capture failed: %v", err)
		s.scheduleLocked(s.interval)
		return
	}

	b64 := base64.StdEncoding.EncodeToString(frame)
	s.mu.Unlock()
	seq, sendErr := s.transport.Send(b64, s.opts.Threshold)
	s.mu.Lock()

	if !s.running || s.gate.State() != models.GateArmed {
		return
	}
	if sendErr == nil {
		s.inFlight = true
		s.awaitSeq = seq
		s.sentAt = time.Now()
		s.lastFrame = frame
	} else if sendErr != transport.ErrNotConnected {
		s.logger.Warning("Frame not sent: %v", sendErr)
	}

	s.scheduleLocked(s.interval)
}

// onResult applies one detection result to the scheduler and the gate.
func (s *Session) onResult(ev transport.Event) {
	s.mu.Lock()

	// Stale-response guard: only the current outstanding request of an
	// armed session may be applied.
	if !s.running || s.gate.State() != models.GateArmed || !s.inFlight || ev.Seq != s.awaitSeq {
		s.metrics.StaleResponses.Add(1)
		s.mu.Unlock()
		return
	}

	s.inFlight = false
	latency := time.Since(s.sentAt)
	s.window.Add(latency)
	s.interval = s.window.IntervalFor(s.opts.DefaultInterval)
	s.metrics.RoundTripMs.Store(uint64(latency.Milliseconds()))
	s.metrics.CurrentIntervalMs.Store(uint64(s.interval.Milliseconds()))

	resp := ev.Result
	snapshot, _ := s.agg.Aggregate(resp.Detections)
	s.metrics.VerdictsTotal.Add(1)

	action := s.gate.OnVerdict(snapshot.IsCompliant, resp.HasPerson)
	switch action {
	case ActionNeutral:
		s.metrics.VerdictsNoSubject.Add(1)
		s.broadcastSnapshotLocked(snapshot, resp, false)

	case ActionContinue:
		s.appendHistoryLocked(snapshot)
		s.broadcastSnapshotLocked(snapshot, resp, true)

	case ActionObserve:
		s.metrics.Violations.Add(1)
		s.appendHistoryLocked(snapshot)
		s.broadcastSnapshotLocked(snapshot, resp, true)

	case ActionPause:
		s.metrics.Violations.Add(1)
		s.metrics.SetPaused(true)
		s.cancelCaptureLocked()
		s.appendHistoryLocked(snapshot)
		s.saveEvidenceLocked(resp)
		s.emitAlertLocked(snapshot.Missing)
		s.broadcastSnapshotLocked(snapshot, resp, true)
		s.logger.Warning("Session %s paused: missing %s", s.id, joinClasses(snapshot.Missing))
	}

	s.mu.Unlock()
}

// scheduleLocked arms the one-shot capture timer. Interval changes take
// effect on the very next cycle because every cycle re-arms here.
func (s *Session) scheduleLocked(d time.Duration) {
	s.cancelCaptureLocked()
	s.timer = time.AfterFunc(d, s.capture)
}

func (s *Session) cancelCaptureLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) cancelAlertLocked() {
	if s.alertTimer != nil {
		s.alertTimer.Stop()
		s.alertTimer = nil
	}
}

// emitAlertLocked broadcasts an alert and, when configured, re-arms a
// repeat timer that keeps alerting while the gate stays paused.
func (s *Session) emitAlertLocked(missing []models.CanonicalClass) {
	s.metrics.AlertsEmitted.Add(1)
	s.logger.Error("PPE violation: missing %s", joinClasses(missing))

	if s.hub != nil {
		payload, err := json.Marshal(dto.AlertEvent{
			Type:      "alert",
			SessionID: s.id,
			Missing:   missing,
			Timestamp: time.Now().UnixMilli(),
		})
		if err == nil {
			s.hub.Broadcast(payload)
		}
	}

	if s.opts.AlertRepeat > 0 {
		s.alertTimer = time.AfterFunc(s.opts.AlertRepeat, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.running && s.gate.State() == models.GatePaused {
				s.emitAlertLocked(missing)
			}
		})
	}
}

func (s *Session) appendHistoryLocked(snapshot models.ComplianceSnapshot) {
	if s.history == nil {
		return
	}
	missing := ""
	if len(snapshot.Missing) > 0 {
		missing = joinClasses(snapshot.Missing)
	}
	record := &models.HistoryRecord{
		SessionID:      s.id,
		IsCompliant:    snapshot.IsCompliant,
		CompletionRate: snapshot.CompletionRate,
		Missing:        missing,
		CreatedAt:      snapshot.Timestamp,
	}
	if _, err := s.history.Append(record); err != nil {
		s.logger.Error("Failed to append history record: %v", err)
	}
}

func (s *Session) saveEvidenceLocked(resp *dto.DetectionResponse) {
	if s.annotator == nil || s.evidence == nil || len(s.lastFrame) == 0 {
		return
	}
	annotated, err := s.annotator.Annotate(s.lastFrame, resp.Detections)
	if err != nil {
		s.logger.Warning("Evidence annotation failed, storing raw frame: %v", err)
		annotated = s.lastFrame
	}
	s.evidence.AddFrame(annotated, "violation")
}

func (s *Session) broadcastSnapshotLocked(snapshot models.ComplianceSnapshot, resp *dto.DetectionResponse, hasSubject bool) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(dto.SnapshotEvent{
		Type:        "snapshot",
		SessionID:   s.id,
		Snapshot:    snapshot,
		HasSubject:  hasSubject,
		IntervalMs:  s.interval.Milliseconds(),
		BodyRegions: resp.BodyRegions,
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(payload)
}

func joinClasses(classes []models.CanonicalClass) string {
	if len(classes) == 0 {
		return "none"
	}
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}
