package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/models"
)

// Position is a single geolocation fix.
type Position struct {
	models.Coord
	Speed   *float64 `json:"speed,omitempty"`
	Heading *int     `json:"heading,omitempty"`
}

// Source provides position fixes. Watch delivers continuous fixes until the
// context is cancelled; Current takes one fresh reading. Implementations
// front whatever positioning facility the host platform has.
type Source interface {
	Watch(ctx context.Context) (<-chan Position, error)
	Current(ctx context.Context) (Position, error)
}

// Throttle gates an action to at most once per interval. The location
// pusher uses it so a chatty position source does not flood the backend.
type Throttle struct {
	mu   sync.Mutex
	min  time.Duration
	last time.Time
	now  func() time.Time
}

func NewThrottle(min time.Duration) *Throttle {
	return &Throttle{min: min, now: time.Now}
}

// Allow reports whether the action may run now and, if so, consumes the slot.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.now()
	if !t.last.IsZero() && n.Sub(t.last) < t.min {
		return false
	}
	t.last = n
	return true
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKm is Haversine between two coords in kilometers.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000
}
