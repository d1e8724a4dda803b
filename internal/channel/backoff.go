package channel

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before reconnect attempt n (1-based):
// base doubled per attempt, capped at max, with +/-50% jitter so a fleet of
// agents does not stampede the backend after an outage.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// rng returns a value in [0,1); overridable in tests.
	rng func() float64
}

func NewBackoff(base, max time.Duration) Backoff {
	return Backoff{Base: base, Max: max, rng: rand.Float64}
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if d > b.Max {
		d = b.Max
	}
	rng := b.rng
	if rng == nil {
		rng = rand.Float64
	}
	// jitter in [0.5d, 1.5d)
	return d/2 + time.Duration(rng()*float64(d))
}
