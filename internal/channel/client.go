package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/observability"
)

// Config wires a channel client to one authenticated driver session.
type Config struct {
	// BaseURL is the websocket root, e.g. ws://host:8000/ws. The client
	// connects to {BaseURL}/driver/{DriverID}.
	BaseURL  string
	DriverID int64

	// Status supplies the current driver status for the presence
	// announcement sent after every (re)connect.
	Status func() models.DriverStatus

	Backoff     Backoff
	MaxAttempts int

	Log *slog.Logger
}

// Client maintains the persistent message channel: one connection per
// session, typed frame dispatch, ping/pong heartbeat and bounded reconnect.
// Events are delivered on a single channel in arrival order.
type Client struct {
	cfg    Config
	events chan Event

	mu   sync.Mutex // guards conn writes
	conn *websocket.Conn

	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

func New(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	c := &Client{cfg: cfg, events: make(chan Event, 16)}
	c.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := d.DialContext(ctx, url, nil)
		return conn, err
	}
	return c
}

// Events returns the event stream. It is closed when Run returns.
func (c *Client) Events() <-chan Event { return c.events }

// Run dials, pumps frames and reconnects until the context is cancelled or
// the attempt budget runs out. It owns the connection; at most one dial is in
// flight at any time.
func (c *Client) Run(ctx context.Context) {
	defer close(c.events)
	defer observability.ChannelUp.Set(0)

	url := fmt.Sprintf("%s/driver/%d", c.cfg.BaseURL, c.cfg.DriverID)
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx, url)
		if err != nil {
			attempt++
			observability.ReconnectsTotal.Inc()
			if attempt >= c.cfg.MaxAttempts {
				c.cfg.Log.Error("channel giving up", "attempts", attempt, "error", err)
				c.emit(ctx, Down{Attempts: attempt})
				return
			}
			delay := c.cfg.Backoff.Delay(attempt)
			c.cfg.Log.Warn("channel dial failed", "attempt", attempt, "retry_in", delay, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.setConn(conn)
		observability.ChannelUp.Set(1)
		c.cfg.Log.Info("channel connected", "driver_id", c.cfg.DriverID)

		if err := c.announce(); err != nil {
			c.cfg.Log.Warn("presence announcement failed", "error", err)
		}
		c.emit(ctx, Connected{})

		readErr := c.readLoop(ctx, conn)

		c.setConn(nil)
		_ = conn.Close()
		observability.ChannelUp.Set(0)
		if ctx.Err() != nil {
			return
		}
		c.emit(ctx, Disconnected{Err: readErr})

		attempt++
		observability.ReconnectsTotal.Inc()
		delay := c.cfg.Backoff.Delay(attempt)
		c.cfg.Log.Warn("channel closed, reconnecting", "retry_in", delay, "error", readErr)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var head struct {
			Type FrameType `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			observability.FramesUnknown.Inc()
			c.cfg.Log.Warn("malformed frame", "error", err)
			continue
		}
		observability.FramesTotal.WithLabelValues(string(head.Type)).Inc()

		// Heartbeat is answered right here: no state involved.
		if head.Type == FramePing {
			if err := c.writeJSON(pongFrame{Type: FramePong}); err != nil {
				return err
			}
			continue
		}

		ev, err := decodeFrame(head.Type, data)
		if err != nil {
			observability.FramesUnknown.Inc()
			c.cfg.Log.Warn("rejected frame", "type", head.Type, "error", err)
			continue
		}
		if !c.emit(ctx, ev) {
			return ctx.Err()
		}
	}
}

func (c *Client) announce() error {
	status := models.StatusOffline
	if c.cfg.Status != nil {
		status = c.cfg.Status()
	}
	return c.writeJSON(presenceFrame{
		Type:     FrameDriverOnline,
		DriverID: c.cfg.DriverID,
		Status:   status,
	})
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("channel not connected")
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
