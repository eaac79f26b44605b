package internal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per key (user or remote address).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows rps events per second per key with the given burst.
// Non-positive values fall back to 5 rps and a burst of 10.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (r *RateLimiter) get(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(r.limit, r.burst)
	r.limiters[key] = l
	return l
}

func (r *RateLimiter) Allow(key string) bool {
	return r.get(key).Allow()
}

// AllowAt is Allow against an explicit clock, for tests.
func (r *RateLimiter) AllowAt(key string, now time.Time) bool {
	return r.get(key).AllowN(now, 1)
}
