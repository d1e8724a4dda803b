package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-agent/internal/logging"
	"github.com/example/driver-agent/internal/models"
)

var upgrader = websocket.Upgrader{}

func newWSServer(t *testing.T) (*httptest.Server, chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)
	return srv, conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(srv *httptest.Server, maxAttempts int) *Client {
	b := NewBackoff(5*time.Millisecond, 20*time.Millisecond)
	b.rng = func() float64 { return 0.5 }
	return New(Config{
		BaseURL:     wsURL(srv),
		DriverID:    1,
		Status:      func() models.DriverStatus { return models.StatusOnline },
		Backoff:     b,
		MaxAttempts: maxAttempts,
		Log:         logging.Discard(),
	})
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("server decode: %v", err)
	}
	return m
}

func TestPresenceAnnouncementAndPingPong(t *testing.T) {
	srv, conns := newWSServer(t)
	c := newTestClient(srv, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	conn := <-conns
	defer conn.Close()

	presence := readFrame(t, conn)
	if presence["type"] != "driver_online" || presence["status"] != "online" {
		t.Fatalf("unexpected presence frame: %v", presence)
	}
	if ev := waitEvent(t, c.Events()); ev != (Connected{}) {
		t.Fatalf("expected Connected, got %#v", ev)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	pong := readFrame(t, conn)
	if pong["type"] != "pong" {
		t.Fatalf("expected pong, got %v", pong)
	}

	// the heartbeat must not surface as an event
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event after ping: %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFrameDispatchSkipsUnknownTags(t *testing.T) {
	srv, conns := newWSServer(t)
	c := newTestClient(srv, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	conn := <-conns
	defer conn.Close()
	readFrame(t, conn) // presence
	waitEvent(t, c.Events())

	conn.WriteJSON(map[string]any{"type": "new_order", "order": map[string]any{"id": 7, "price": 250}, "timeout": 30})
	ev := waitEvent(t, c.Events())
	no, ok := ev.(NewOrder)
	if !ok || no.Order.ID != 7 || no.TimeoutSec != 30 {
		t.Fatalf("expected NewOrder for order 7, got %#v", ev)
	}

	conn.WriteJSON(map[string]any{"type": "totally_unknown"})
	conn.WriteJSON(map[string]any{"type": "order_update", "order_id": 7, "status": "cancelled"})
	ev = waitEvent(t, c.Events())
	up, ok := ev.(OrderUpdate)
	if !ok || up.OrderID != 7 || up.Status != "cancelled" {
		t.Fatalf("unknown tag should be skipped, got %#v", ev)
	}
}

func TestReconnectsAfterClose(t *testing.T) {
	srv, conns := newWSServer(t)
	c := newTestClient(srv, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	first := <-conns
	readFrame(t, first) // presence
	waitEvent(t, c.Events())
	first.Close()

	if _, ok := waitEvent(t, c.Events()).(Disconnected); !ok {
		t.Fatal("expected Disconnected after server close")
	}

	// exactly one new connection shows up after the backoff delay
	select {
	case second := <-conns:
		readFrame(t, second)
		second.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect attempt")
	}
	if ev := waitEvent(t, c.Events()); ev != (Connected{}) {
		t.Fatalf("expected Connected after reconnect, got %#v", ev)
	}
}

func TestGivesUpAfterAttemptBudget(t *testing.T) {
	srv, _ := newWSServer(t)
	srv.Close() // nothing listening

	c := newTestClient(srv, 3)
	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	var down Down
	for ev := range c.Events() {
		if d, ok := ev.(Down); ok {
			down = d
		}
	}
	if down.Attempts != 3 {
		t.Fatalf("expected give-up after 3 attempts, got %+v", down)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after giving up")
	}
}

func TestBackoffGrowthCapAndJitter(t *testing.T) {
	b := NewBackoff(time.Second, 8*time.Second)
	b.rng = func() float64 { return 0.5 } // midpoint: Delay == nominal

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 8 * time.Second}, // capped
	}
	for _, tc := range cases {
		if got := b.Delay(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: got %v, want %v", tc.attempt, got, tc.want)
		}
	}

	b.rng = func() float64 { return 0 }
	if got := b.Delay(1); got != 500*time.Millisecond {
		t.Fatalf("lower jitter bound: got %v", got)
	}
	b.rng = func() float64 { return 0.999 }
	if got := b.Delay(1); got < 1400*time.Millisecond || got > 1500*time.Millisecond {
		t.Fatalf("upper jitter bound: got %v", got)
	}
}
