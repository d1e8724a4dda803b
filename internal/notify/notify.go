package notify

import (
	"time"

	"github.com/example/driver-agent/internal/observability"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Notification is an ephemeral user-facing message with a fixed visible
// lifetime.
type Notification struct {
	Kind    Kind
	Title   string
	Message string
	addedAt time.Time
}

// Center holds active notifications in insertion order. A hard cap keeps a
// starved prune from growing the list without bound; when the cap is hit the
// oldest entry is evicted and counted.
type Center struct {
	ttl   time.Duration
	cap   int
	items []Notification
	now   func() time.Time
}

func NewCenter(ttl time.Duration, capacity int) *Center {
	if capacity <= 0 {
		capacity = 50
	}
	return &Center{ttl: ttl, cap: capacity, now: time.Now}
}

func (c *Center) Push(kind Kind, title, message string) {
	c.prune()
	if len(c.items) >= c.cap {
		c.items = c.items[1:]
		observability.NotificationsDropped.Inc()
	}
	c.items = append(c.items, Notification{Kind: kind, Title: title, Message: message, addedAt: c.now()})
}

// Active returns the notifications still inside their visible lifetime,
// oldest first.
func (c *Center) Active() []Notification {
	c.prune()
	out := make([]Notification, len(c.items))
	copy(out, c.items)
	return out
}

// Tick expires notifications; the owning event loop calls it once a second.
func (c *Center) Tick() { c.prune() }

func (c *Center) prune() {
	cutoff := c.now().Add(-c.ttl)
	i := 0
	for i < len(c.items) && c.items[i].addedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.items = append(c.items[:0], c.items[i:]...)
	}
}
