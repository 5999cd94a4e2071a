package ratelimiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket wrapping golang.org/x/time/rate.
// Safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing requestsPerSecond sustained with the given
// burst. requestsPerSecond = 0 disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// AllowAt is Allow evaluated at t
func (r *RateLimiter) AllowAt(t time.Time) bool {
	return r.limiter.AllowN(t, 1)
}

// Wait blocks until a token is available or ctx is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

type keyedEntry struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// Keyed holds one token bucket per key, e.g. per share token
type Keyed struct {
	mu       sync.Mutex
	rps      uint
	burst    uint
	limiters map[string]*keyedEntry
}

// NewKeyed creates a per-key limiter. requestsPerSecond = 0 disables it.
func NewKeyed(requestsPerSecond, burst uint) *Keyed {
	return &Keyed{
		rps:      requestsPerSecond,
		burst:    burst,
		limiters: make(map[string]*keyedEntry),
	}
}

// Enabled reports whether any limit is enforced
func (k *Keyed) Enabled() bool {
	return k != nil && k.rps > 0
}

// Allow consumes a token from key's bucket at time now
func (k *Keyed) Allow(key string, now time.Time) bool {
	if !k.Enabled() {
		return true
	}

	k.mu.Lock()
	e, ok := k.limiters[key]
	if !ok {
		e = &keyedEntry{limiter: New(k.rps, k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now
	k.mu.Unlock()

	return e.limiter.AllowAt(now)
}

// Forget drops key's bucket
func (k *Keyed) Forget(key string) {
	if !k.Enabled() {
		return
	}
	k.mu.Lock()
	delete(k.limiters, key)
	k.mu.Unlock()
}

// Prune drops buckets unused since before cutoff and returns how many
func (k *Keyed) Prune(cutoff time.Time) int {
	if !k.Enabled() {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	n := 0
	for key, e := range k.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(k.limiters, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys
func (k *Keyed) Len() int {
	if !k.Enabled() {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
