// Package ratelimit gates event admission with per-key token buckets.
// Buckets refill lazily at acquire time, so no background ticker runs and
// each key has a single mutation point.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Decision is the outcome of an acquire attempt.
type Decision struct {
	Granted bool
	// RetryAfter is how long until enough tokens accrue. Zero when Granted.
	RetryAfter time.Duration
}

// Limit describes one bucket class: its burst capacity and steady refill rate
// in tokens per second.
type Limit struct {
	Capacity   float64
	RefillRate float64
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter holds the buckets for one operation class, keyed by
// tenant+platform. Buckets are created on first acquire.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   Limit
	now     func() time.Time
}

// NewLimiter creates a Limiter for the given class limit.
func NewLimiter(limit Limit) *Limiter {
	return &Limiter{
		buckets: map[string]*bucket{},
		limit:   limit,
		now:     time.Now,
	}
}

// Acquire takes cost tokens from the key's bucket. When the bucket cannot
// cover the cost the call is throttled and RetryAfter reports when it could
// next succeed.
func (l *Limiter) Acquire(key string, cost float64) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.limit.Capacity, lastRefill: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastRefill).Seconds()
		if elapsed > 0 {
			b.tokens = math.Min(l.limit.Capacity, b.tokens+elapsed*l.limit.RefillRate)
			b.lastRefill = now
		}
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return Decision{Granted: true}
	}

	var retryAfter time.Duration
	if l.limit.RefillRate > 0 {
		retryAfter = time.Duration((cost - b.tokens) / l.limit.RefillRate * float64(time.Second))
	} else {
		retryAfter = time.Duration(math.MaxInt64)
	}
	return Decision{RetryAfter: retryAfter}
}

// Prune drops buckets that have been idle long enough to be full again.
// Returns the number removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var fullAfter time.Duration
	if l.limit.RefillRate > 0 {
		fullAfter = time.Duration(l.limit.Capacity / l.limit.RefillRate * float64(time.Second))
	}
	removed := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) > fullAfter {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
