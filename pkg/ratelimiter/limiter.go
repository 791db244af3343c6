package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket over golang.org/x/time/rate.
type RateLimiter struct {
	limiter *rate.Limiter
	burst   int
	rps     float64
}

// NewRateLimiter creates a limiter that produces one token every interval,
// holding at most burst tokens.
func NewRateLimiter(interval time.Duration, burst int) *RateLimiter {
	if interval <= 0 {
		interval = time.Second
	}
	return NewRateLimiterFromRPS(float64(time.Second)/float64(interval), burst)
}

func NewRateLimiterFromRPS(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		burst:   burst,
		rps:     rps,
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

func (rl *RateLimiter) TryAcquire() bool {
	return rl.limiter.Allow()
}

// GetStats returns an estimate of available tokens, the bucket capacity and the refill interval.
func (rl *RateLimiter) GetStats() (available, capacity int, interval time.Duration) {
	available = max(int(rl.limiter.Tokens()), 0)
	capacity = rl.burst
	interval = time.Duration(float64(time.Second) / rl.rps)
	return
}
