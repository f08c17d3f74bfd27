package quota

import (
	"context"
	"sync"
	"time"
)

// Throttle spaces outbound sends per transport so a burst of queued
// replies does not trip a network's flood limits. Each key gets its own
// token bucket; Wait blocks until that bucket has a token.
type Throttle struct {
	mu      sync.Mutex
	burst   float64
	rate    float64 // tokens per second
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func NewThrottle(burst int, perMinute float64) *Throttle {
	if burst <= 0 {
		burst = 5
	}
	if perMinute <= 0 {
		perMinute = 30
	}
	return &Throttle{
		burst:   float64(burst),
		rate:    perMinute / 60.0,
		buckets: make(map[string]*bucket),
	}
}

// reserve takes a token for key if one is available, otherwise returns how
// long until one will be.
func (t *Throttle) reserve(key string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{tokens: t.burst, last: now}
		t.buckets[key] = b
	}
	b.tokens = min(t.burst, b.tokens+now.Sub(b.last).Seconds()*t.rate)
	b.last = now

	if b.tokens >= 1.0 {
		b.tokens--
		return 0
	}
	return time.Duration((1.0 - b.tokens) / t.rate * float64(time.Second))
}

func (t *Throttle) Wait(ctx context.Context, key string) error {
	for {
		wait := t.reserve(key, time.Now())
		if wait == 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
