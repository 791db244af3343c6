package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// PooledRateLimiter keeps one limiter per remote endpoint, so the JSON-RPC node
// and the gas oracle are throttled independently.
type PooledRateLimiter struct {
	limiters map[string]*RateLimiter
	mutex    sync.RWMutex
	interval time.Duration
	burst    int
}

func NewPooledRateLimiter(interval time.Duration, burst int) *PooledRateLimiter {
	return &PooledRateLimiter{
		limiters: make(map[string]*RateLimiter),
		interval: interval,
		burst:    burst,
	}
}

// NewPooledRateLimiterFromRPS returns nil when rps is not positive, meaning "no throttling".
func NewPooledRateLimiterFromRPS(rps float64, burst int) *PooledRateLimiter {
	if rps <= 0 {
		return nil
	}
	return NewPooledRateLimiter(time.Duration(float64(time.Second)/rps), burst)
}

func (p *PooledRateLimiter) Wait(ctx context.Context, endpoint string) error {
	return p.getLimiter(endpoint).Wait(ctx)
}

func (p *PooledRateLimiter) TryAcquire(endpoint string) bool {
	return p.getLimiter(endpoint).TryAcquire()
}

func (p *PooledRateLimiter) getLimiter(endpoint string) *RateLimiter {
	p.mutex.RLock()
	limiter, exists := p.limiters[endpoint]
	p.mutex.RUnlock()
	if exists {
		return limiter
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if limiter, exists := p.limiters[endpoint]; exists {
		return limiter
	}
	limiter = NewRateLimiter(p.interval, p.burst)
	p.limiters[endpoint] = limiter
	return limiter
}

func (p *PooledRateLimiter) GetStats() map[string]map[string]any {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stats := make(map[string]map[string]any, len(p.limiters))
	for endpoint, limiter := range p.limiters {
		available, capacity, interval := limiter.GetStats()
		stats[endpoint] = map[string]any{
			"available_tokens": available,
			"capacity":         capacity,
			"rate_ms":          interval.Milliseconds(),
		}
	}
	return stats
}
