package transport

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ppemonitor/internal/config"
	"ppemonitor/internal/dto"
	"ppemonitor/internal/logger"
	"ppemonitor/internal/metrics"
	"ppemonitor/internal/models"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c := New(Options{
		URL:           url,
		MaxFrameBytes: 1024 * 1024,
	}, newTestLogger(t), metrics.New())
	t.Cleanup(c.Close)
	return c
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitEvent(t *testing.T, c *Client, want EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event type %d", want)
		}
	}
}

func TestClient_ConnectAndReceiveResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake ack, consumed silently by the client.
		conn.WriteJSON(map[string]string{"type": "connected", "message": "ready"})

		var req dto.DetectionRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Image != "ZnJhbWU=" {
			t.Errorf("unexpected image payload: %q", req.Image)
		}

		conn.WriteJSON(map[string]string{"type": "processing"})
		conn.WriteJSON(map[string]interface{}{
			"ppe_status":   map[string]bool{"helmet": true},
			"detections":   []map[string]interface{}{{"class": "helmet", "confidence": 0.9, "bbox": []float64{1, 2, 3, 4}}},
			"is_compliant": false,
			"has_person":   true,
			"image_width":  640,
			"image_height": 480,
		})

		// Keep the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := newTestClient(t, wsURL(srv))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitEvent(t, c, EventConnected)

	seq, err := c.Send("ZnJhbWU=", 0.5)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("expected seq 1, got %d", seq)
	}

	ev := waitEvent(t, c, EventResult)
	if ev.Seq != seq {
		t.Errorf("result seq %d does not match request seq %d", ev.Seq, seq)
	}
	if ev.Result == nil || !ev.Result.HasPerson {
		t.Fatalf("unexpected result: %+v", ev.Result)
	}
	if len(ev.Result.Detections) != 1 || ev.Result.Detections[0].Label != "helmet" {
		t.Errorf("unexpected detections: %+v", ev.Result.Detections)
	}
}

func TestClient_AnswersPingWithPong(t *testing.T) {
	pong := make(chan dto.ControlFrame, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "ping"})

		var frame dto.ControlFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		pong <- frame
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := newTestClient(t, wsURL(srv))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case frame := <-pong:
		if frame.Type != dto.ControlPong {
			t.Errorf("expected pong, got %q", frame.Type)
		}
		if frame.Timestamp == 0 {
			t.Error("pong must carry the local timestamp")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

func TestClient_InvalidResponsesDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Not JSON at all, then a response missing required fields, then a
		// valid one. Only the valid response may surface.
		conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		conn.WriteJSON(map[string]interface{}{"detections": []string{}})
		conn.WriteJSON(map[string]interface{}{
			"ppe_status":   map[string]bool{},
			"detections":   []interface{}{},
			"is_compliant": true,
			"has_person":   true,
		})
		conn.ReadMessage()
	}))
	defer srv.Close()

	c := newTestClient(t, wsURL(srv))
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ev := waitEvent(t, c, EventResult)
	if !ev.Result.IsCompliant {
		t.Error("the surfaced result should be the valid compliant one")
	}
	if got := c.metrics.MalformedFrames.Load(); got != 2 {
		t.Errorf("expected 2 malformed frames counted, got %d", got)
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/api/ws/detect")

	if _, err := c.Send("ZnJhbWU=", 0.5); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_OversizedFrameRejected(t *testing.T) {
	c := New(Options{
		URL:           "ws://127.0.0.1:1/api/ws/detect",
		MaxFrameBytes: 64,
	}, newTestLogger(t), metrics.New())
	defer c.Close()

	huge := strings.Repeat("A", 128)
	if _, err := c.Send(huge, 0.5); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if got := c.metrics.FramesOversized.Load(); got != 1 {
		t.Errorf("expected oversized counter 1, got %d", got)
	}
}

func TestClient_DisconnectDuringDialRecovers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()

	// Accept the TCP connection but stall the websocket handshake so the
	// dial stays in flight.
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	c := newTestClient(t, "ws://"+addr+"/api/ws/detect")

	dialDone := make(chan error, 1)
	go func() { dialDone <- c.Connect() }()

	var raw net.Conn
	select {
	case raw = <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("dial never reached the listener")
	}

	// A session stop lands while the handshake is still in flight.
	c.Disconnect()
	raw.Close()
	ln.Close()

	select {
	case <-dialDone:
	case <-time.After(3 * time.Second):
		t.Fatal("Connect did not return after the listener went away")
	}

	if got := c.State(); got != models.Disconnected {
		t.Fatalf("expected disconnected state after aborted dial, got %q", got)
	}

	// A backend comes up on the same address; the next Connect must dial
	// it instead of bailing on leftover state.
	ln2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("rebind failed: %v", err)
	}
	defer ln2.Close()
	go http.Serve(ln2, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
	}))

	if err := c.Connect(); err != nil {
		t.Fatalf("reconnect after aborted dial failed: %v", err)
	}
	if !c.Connected() {
		t.Fatal("client should be connected after the second dial")
	}
}

func TestClient_StabilityWindowResetsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	c := New(Options{
		URL:             wsURL(srv),
		MaxFrameBytes:   1024,
		PingInterval:    time.Hour,
		StabilityWindow: 30 * time.Millisecond,
		Ladder:          []time.Duration{5 * time.Millisecond, 40 * time.Millisecond, 160 * time.Millisecond},
	}, newTestLogger(t), metrics.New())
	t.Cleanup(c.Close)

	rung := func() int {
		c.backoff.mu.Lock()
		defer c.backoff.mu.Unlock()
		return c.backoff.idx
	}

	// Two failed attempts walk the ladder up.
	c.backoff.Next()
	c.backoff.Next()
	if rung() != 2 {
		t.Fatalf("expected ladder at rung 2 before connecting, got %d", rung())
	}

	if err := c.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitEvent(t, c, EventConnected)

	// Once the connection has stayed open past the stability window, the
	// next retry must start from the first rung again.
	deadline := time.Now().Add(2 * time.Second)
	for rung() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ladder never reset after the stability window, still at rung %d", rung())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_ResponseWithoutHasPerson(t *testing.T) {
	raw := []byte(`{"ppe_status":{},"detections":[{"class":"helmet","confidence":0.8,"bbox":[0,0,1,1]}],"is_compliant":false}`)

	resp, err := dto.ParseDetectionResponse(raw)
	if err != nil {
		t.Fatalf("ParseDetectionResponse failed: %v", err)
	}
	if !resp.HasPerson {
		t.Error("response with detections should imply a subject when has_person is omitted")
	}

	empty := []byte(`{"ppe_status":{},"detections":[],"is_compliant":false}`)
	resp, err = dto.ParseDetectionResponse(empty)
	if err != nil {
		t.Fatalf("ParseDetectionResponse failed: %v", err)
	}
	if resp.HasPerson {
		t.Error("response without detections should imply an empty scene when has_person is omitted")
	}
}
