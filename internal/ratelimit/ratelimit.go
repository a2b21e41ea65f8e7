package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements token bucket rate limiting
type TokenBucket struct {
	capacity   float64 // maximum tokens
	tokens     float64 // current tokens
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// newTokenBucket creates a full bucket refilling at refillRate tokens per second
func newTokenBucket(capacity, refillRate int, now func() time.Time) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity), // start full
		refillRate: float64(refillRate),
		lastRefill: now(),
		now:        now,
	}
}

// Allow checks if a request is allowed (consumes 1 token if available)
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if elapsed := now.Sub(tb.lastRefill); elapsed > 0 {
		// fractional tokens carry over so slow refill rates still refill
		tb.tokens += elapsed.Seconds() * tb.refillRate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// RateLimiter manages one token bucket per route
type RateLimiter struct {
	buckets map[string]*TokenBucket
	mu      sync.RWMutex
	now     func() time.Time

	rps   int
	burst int
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// route with bursts of up to burst. A burst below 1 defaults to rps.
func NewRateLimiter(rps, burst int) *RateLimiter {
	if burst < 1 {
		burst = rps
	}
	return &RateLimiter{
		buckets: make(map[string]*TokenBucket),
		now:     time.Now,
		rps:     rps,
		burst:   burst,
	}
}

// Allow checks if a request for the given route is allowed
func (rl *RateLimiter) Allow(route string) bool {
	rl.mu.RLock()
	bucket, exists := rl.buckets[route]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		// Double-check after acquiring write lock
		if bucket, exists = rl.buckets[route]; !exists {
			bucket = newTokenBucket(rl.burst, rl.rps, rl.now)
			rl.buckets[route] = bucket
		}
		rl.mu.Unlock()
	}

	return bucket.Allow()
}
