package devserver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSession serializes writes to one driver connection. gorilla/websocket
// allows at most one concurrent writer per connection.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// wsRegistry tracks live driver connections keyed by driver id. A new
// connection for an already-connected driver replaces the old one.
type wsRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]*wsSession
	log      *slog.Logger
}

func newWSRegistry(log *slog.Logger) *wsRegistry {
	return &wsRegistry{sessions: make(map[int64]*wsSession), log: log}
}

func (r *wsRegistry) add(driverID int64, conn *websocket.Conn) *wsSession {
	s := &wsSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[driverID]
	r.sessions[driverID] = s
	r.mu.Unlock()
	if old != nil {
		old.conn.Close()
	}
	wsConnections.Inc()
	return s
}

func (r *wsRegistry) remove(driverID int64, s *wsSession) {
	r.mu.Lock()
	if r.sessions[driverID] == s {
		delete(r.sessions, driverID)
	}
	r.mu.Unlock()
	wsConnections.Dec()
}

// sendTo pushes one frame to a connected driver. Returns false when the
// driver has no live connection.
func (r *wsRegistry) sendTo(driverID int64, v any) bool {
	r.mu.RLock()
	s := r.sessions[driverID]
	r.mu.RUnlock()
	if s == nil {
		return false
	}
	if err := s.send(v); err != nil {
		r.log.Warn("ws send failed", "driver_id", driverID, "error", err)
		return false
	}
	return true
}

func (r *wsRegistry) connected(driverID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

// pingLoop sends a ping frame to every session on a fixed interval until the
// context is cancelled. Clients answer with pong; the answer is discarded by
// the per-connection read loop.
func (r *wsRegistry) pingLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	frame := map[string]string{"type": "ping"}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.RLock()
			ids := make([]int64, 0, len(r.sessions))
			for id := range r.sessions {
				ids = append(ids, id)
			}
			r.mu.RUnlock()
			for _, id := range ids {
				r.sendTo(id, frame)
			}
		}
	}
}
