package geo

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/example/driver-agent/internal/models"
)

// SimSource is a fake position source for local runs against the devserver:
// a random walk around a starting point, one fix per interval.
type SimSource struct {
	mu       sync.Mutex
	pos      models.Coord
	interval time.Duration
	stepDeg  float64
	rng      *rand.Rand
}

func NewSimSource(start models.Coord, interval time.Duration) *SimSource {
	return &SimSource{
		pos:      start,
		interval: interval,
		stepDeg:  0.0005, // ~50m per step
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SimSource) Current(ctx context.Context) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Position{Coord: s.pos}, nil
}

func (s *SimSource) Watch(ctx context.Context) (<-chan Position, error) {
	out := make(chan Position)
	go func() {
		defer close(out)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				select {
				case out <- s.step():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *SimSource) step() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos.Lat += (s.rng.Float64() - 0.5) * s.stepDeg
	s.pos.Lon += (s.rng.Float64() - 0.5) * s.stepDeg
	return Position{Coord: s.pos}
}
