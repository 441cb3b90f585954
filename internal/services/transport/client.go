package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"ppemonitor/internal/dto"
	"ppemonitor/internal/logger"
	"ppemonitor/internal/metrics"
	"ppemonitor/internal/models"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned by Send while the connection is down. The
	// failed send schedules a reconnect attempt as a side effect.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrFrameTooLarge is returned when an encoded frame exceeds the payload
	// ceiling. The frame is dropped, never retried.
	ErrFrameTooLarge = errors.New("transport: frame exceeds payload ceiling")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
)

// EventType discriminates transport events.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventResult
)

// Event is delivered on the single typed event channel. Result events carry
// the sequence number of the request they answer so the consumer can apply
// its stale-response guard.
type Event struct {
	Type   EventType
	Seq    uint64
	Result *dto.DetectionResponse
}

// Options configure a Client. Zero durations fall back to the defaults
// below.
type Options struct {
	URL             string
	MaxFrameBytes   int
	PingInterval    time.Duration
	StabilityWindow time.Duration
	Ladder          []time.Duration
}

const (
	defaultPingInterval    = 30 * time.Second
	defaultStabilityWindow = 5 * time.Minute
	defaultMaxFrameBytes   = 5 * 1024 * 1024

	// How long a result send may wait on a slow consumer before the read
	// pump moves on.
	resultDeliverTimeout = 2 * time.Second
)

// Client owns one persistent websocket connection to the detection backend.
// Control frames (connected/processing/ping/pong) are consumed internally;
// detection results surface as events. Abnormal closures feed the backoff
// ladder; manual disconnects do not reconnect.
type Client struct {
	opts    Options
	backoff *Backoff
	logger  *logger.Logger
	metrics *metrics.Metrics

	events chan Event

	mu             sync.Mutex
	wmu            sync.Mutex // serializes writes on the active conn
	conn           *websocket.Conn
	state          models.ConnState
	manual         bool
	closed         bool
	seq            uint64
	connEpoch      uint64 // guards fault() against already-superseded conns
	reconnectTimer *time.Timer
	stabilityTimer *time.Timer
	pingDone       chan struct{}
}

// New creates a Client. It does not dial; call Connect.
func New(opts Options, log *logger.Logger, m *metrics.Metrics) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.StabilityWindow <= 0 {
		opts.StabilityWindow = defaultStabilityWindow
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = defaultMaxFrameBytes
	}

	return &Client{
		opts:    opts,
		backoff: NewBackoff(opts.Ladder),
		logger:  log,
		metrics: m,
		events:  make(chan Event, 32),
		state:   models.Disconnected,
	}
}

// Events returns the single event channel. The channel is never closed;
// consumers stop via their own signal.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the connection state.
func (c *Client) State() models.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the connection is open.
func (c *Client) Connected() bool {
	return c.State() == models.Connected
}

// Connect dials the backend. On failure the next rung of the backoff ladder
// is scheduled; Connect itself returns the dial error.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != models.Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = models.Connecting
	c.manual = false
	url := c.opts.URL
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)

	c.mu.Lock()
	if c.closed || c.manual {
		// A Disconnect or Close landed while the dial was in flight. The
		// state must return to Disconnected so a later Connect can dial.
		c.state = models.Disconnected
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.state = models.Disconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.logger.Warning("Backend dial failed: %v", err)
		return err
	}

	c.conn = conn
	c.connEpoch++
	epoch := c.connEpoch
	c.state = models.Connected
	c.metrics.SetConnected(true)
	c.pingDone = make(chan struct{})
	pingDone := c.pingDone

	// The ladder resets only after the connection has stayed open for the
	// full stability window.
	c.stabilityTimer = time.AfterFunc(c.opts.StabilityWindow, func() {
		c.backoff.Reset()
		c.logger.Info("Connection stable, backoff ladder reset")
	})
	c.mu.Unlock()

	c.logger.Info("Connected to detection backend: %s", url)
	c.deliver(Event{Type: EventConnected})

	go c.readPump(conn, epoch)
	go c.keepalive(conn, epoch, pingDone)

	return nil
}

// Send transmits one detection request if and only if the connection is
// open; otherwise it is a no-op that triggers a reconnect attempt. It
// returns the sequence number assigned to the request.
func (c *Client) Send(imageB64 string, threshold float64) (uint64, error) {
	payload, err := json.Marshal(dto.DetectionRequest{
		Image:               imageB64,
		ConfidenceThreshold: threshold,
	})
	if err != nil {
		return 0, err
	}

	if len(payload) > c.opts.MaxFrameBytes {
		c.metrics.FramesOversized.Add(1)
		c.logger.Warning("Frame rejected: %d bytes exceeds %d byte ceiling", len(payload), c.opts.MaxFrameBytes)
		return 0, ErrFrameTooLarge
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if c.state != models.Connected {
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	c.seq++
	seq := c.seq
	conn := c.conn
	epoch := c.connEpoch
	c.mu.Unlock()

	c.wmu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.wmu.Unlock()
	if err != nil {
		c.logger.Error("Send failed: %v", err)
		c.fault(epoch, err)
		return 0, err
	}

	c.metrics.FramesSent.Add(1)
	return seq, nil
}

// Disconnect closes the connection manually: backoff state resets
// immediately and no reconnect is scheduled.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.cancelTimersLocked()
	c.backoff.Reset()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.wmu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop"),
			time.Now().Add(time.Second))
		c.wmu.Unlock()
		conn.Close()
	}
}

// Close tears the client down for good.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
}

func (c *Client) readPump(conn *websocket.Conn, epoch uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.interpretClose(err)
			c.fault(epoch, err)
			return
		}
		c.dispatch(conn, data)
	}
}

// dispatch demultiplexes one incoming message: control frames are consumed
// here, detection results are forwarded as events.
func (c *Client) dispatch(conn *websocket.Conn, data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		c.metrics.MalformedFrames.Add(1)
		c.logger.Warning("Unparsable backend message dropped: %v", err)
		return
	}

	switch probe.Type {
	case dto.ControlConnected:
		c.metrics.ControlFrames.Add(1)
		c.logger.Info("Backend handshake acknowledged")
	case dto.ControlProcessing, dto.ControlPong:
		c.metrics.ControlFrames.Add(1)
	case dto.ControlPing:
		c.metrics.ControlFrames.Add(1)
		c.writeControl(conn, dto.ControlFrame{
			Type:      dto.ControlPong,
			Timestamp: time.Now().UnixMilli(),
		})
	case dto.ControlError:
		var frame dto.ControlFrame
		_ = json.Unmarshal(data, &frame)
		c.metrics.ControlFrames.Add(1)
		c.logger.Warning("Backend error frame: %s", frame.Message)
	case "":
		resp, err := dto.ParseDetectionResponse(data)
		if err != nil {
			c.metrics.MalformedFrames.Add(1)
			c.logger.Warning("Invalid detection response dropped: %v", err)
			return
		}
		if !resp.HasDimensions() {
			c.logger.Warning("Detection response missing image dimensions")
		}

		c.mu.Lock()
		seq := c.seq
		c.mu.Unlock()
		c.deliver(Event{Type: EventResult, Seq: seq, Result: resp})
	default:
		c.metrics.ControlFrames.Add(1)
		c.logger.Warning("Unknown control frame type %q ignored", probe.Type)
	}
}

// keepalive emits a ping at a fixed cadence. A failed keepalive write is a
// connection fault and takes the reconnect path.
func (c *Client) keepalive(conn *websocket.Conn, epoch uint64, done chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeControl(conn, dto.ControlFrame{Type: dto.ControlPing}); err != nil {
				c.logger.Error("Keepalive failed: %v", err)
				c.fault(epoch, err)
				return
			}
			c.metrics.KeepalivesSent.Add(1)
		}
	}
}

func (c *Client) writeControl(conn *websocket.Conn, frame dto.ControlFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// fault handles an abnormal connection loss for the given conn epoch.
// Stale faults from an already-replaced connection are ignored.
func (c *Client) fault(epoch uint64, err error) {
	c.mu.Lock()
	if c.connEpoch != epoch || c.conn == nil {
		c.mu.Unlock()
		return
	}

	c.conn.Close()
	c.conn = nil
	c.state = models.Disconnected
	c.metrics.SetConnected(false)
	c.cancelTimersLocked()

	manual := c.manual || c.closed
	if !manual {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	if !manual {
		c.logger.Warning("Connection lost: %v", err)
	}
	c.deliver(Event{Type: EventDisconnected})
}

// interpretClose classifies the close reason; all non-manual codes feed the
// reconnect policy identically.
func (c *Client) interpretClose(err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure):
		c.logger.Info("Backend closed the connection normally")
	case websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived):
		c.logger.Warning("Abnormal closure: %v", err)
	case websocket.IsCloseError(err, websocket.CloseInternalServerErr):
		c.logger.Warning("Backend fault closure: %v", err)
	}
}

// scheduleReconnectLocked arms the next rung of the backoff ladder. Caller
// holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	if c.closed || c.manual || c.reconnectTimer != nil || c.state == models.Connected {
		return
	}

	delay := c.backoff.Next()
	c.metrics.Reconnects.Add(1)
	c.logger.Info("Reconnecting in %s", delay)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		_ = c.Connect()
	})
}

// cancelTimersLocked stops pending reconnect, stability and keepalive
// timers so nothing fires after teardown. Caller holds c.mu.
func (c *Client) cancelTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.stabilityTimer != nil {
		c.stabilityTimer.Stop()
		c.stabilityTimer = nil
	}
	if c.pingDone != nil {
		close(c.pingDone)
		c.pingDone = nil
	}
}

// deliver pushes an event to the consumer. Connection events may be
// dropped when the channel is full; a result event answers an outstanding
// request, so its send waits out a slow consumer before giving up.
func (c *Client) deliver(ev Event) {
	if ev.Type == EventResult {
		select {
		case c.events <- ev:
		case <-time.After(resultDeliverTimeout):
			c.logger.Warning("Event channel blocked, dropping result for seq %d", ev.Seq)
		}
		return
	}

	select {
	case c.events <- ev:
	default:
		c.logger.Warning("Event channel full, dropping event type %d", ev.Type)
	}
}
