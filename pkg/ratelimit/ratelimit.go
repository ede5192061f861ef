package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// Limiter enforces a fixed delay before every operation, optionally stretched
// by a random jitter. Unlike a ticker the delay is measured from the moment
// Wait is called, so slow responses never shorten the pause before the next
// request. It is safe for concurrent use by multiple goroutines.
type Limiter struct {
	delay  time.Duration
	jitter float64 // 0.0 to 1.0
}

// NewLimiter creates a limiter that pauses for delay on every Wait. Jitter
// must be between 0.0 and 1.0 and only ever lengthens the pause.
// If delay is <= 0, the limiter does not block.
func NewLimiter(delay time.Duration, jitter float64) *Limiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	if delay < 0 {
		delay = 0
	}
	return &Limiter{
		delay:  delay,
		jitter: jitter,
	}
}

// Delay returns the configured base delay.
func (l *Limiter) Delay() time.Duration {
	return l.delay
}

// Wait blocks for the configured delay, or until the context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := l.next()
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) next() time.Duration {
	if l.delay <= 0 || l.jitter == 0 {
		return l.delay
	}
	// The delay is a floor: jitter adds between 0 and jitter*delay on top.
	extra := time.Duration(float64(l.delay) * l.jitter * rand.Float64())
	return l.delay + extra
}
