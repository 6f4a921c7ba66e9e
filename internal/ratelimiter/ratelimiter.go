// File: internal/ratelimiter/ratelimiter.go
// Author: momentics <momentics@gmail.com>
//
// Token-bucket admission for accepted connections.

package ratelimiter

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter admits events at a sustained rate with a bounded burst.
// Only the non-blocking Allow path exists: callers run on the reactor
// goroutine and cannot wait for tokens.
//
// A nil *RateLimiter admits everything.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter. perSecond == 0 disables limiting and returns nil.
// burst == 0 defaults to perSecond.
func New(perSecond, burst uint) *RateLimiter {
	if perSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = perSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Allow reports whether one event may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// AllowAt is Allow with an explicit clock, used by tests.
func (r *RateLimiter) AllowAt(now time.Time) bool {
	if r == nil {
		return true
	}
	return r.limiter.AllowN(now, 1)
}

// Tokens returns the currently available tokens, for debug probes.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return -1
	}
	return r.limiter.Tokens()
}
