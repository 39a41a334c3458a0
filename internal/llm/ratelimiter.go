package llm

import (
	"context"
	"sync"
	"time"
)

// TokenBucketRateLimiter throttles outbound model calls.
type TokenBucketRateLimiter struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillEvery  time.Duration
	refillAmount int
	lastRefill   time.Time
	metrics      RateLimitMetrics
	now          func() time.Time
}

type RateLimitMetrics struct {
	TotalRequests    int64
	AllowedRequests  int64
	RejectedRequests int64
}

// NewTokenBucketRateLimiter adds refillAmount tokens every refillEvery, up
// to capacity. The bucket starts full.
func NewTokenBucketRateLimiter(capacity int, refillEvery time.Duration, refillAmount int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		capacity:     capacity,
		tokens:       capacity,
		refillEvery:  refillEvery,
		refillAmount: refillAmount,
		lastRefill:   time.Now(),
		now:          time.Now,
	}
}

// PerMinute builds a limiter allowing n requests per minute with a burst of n.
func PerMinute(n int) *TokenBucketRateLimiter {
	if n <= 0 {
		return nil
	}
	return NewTokenBucketRateLimiter(n, time.Minute/time.Duration(n), 1)
}

// TryAcquire takes a token if one is available. Otherwise it returns the
// time until the next refill.
func (r *TokenBucketRateLimiter) TryAcquire() (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.TotalRequests++

	now := r.now()
	elapsed := now.Sub(r.lastRefill)
	if elapsed >= r.refillEvery {
		intervals := int(elapsed / r.refillEvery)
		r.tokens = min(r.capacity, r.tokens+intervals*r.refillAmount)
		r.lastRefill = now.Add(-(elapsed % r.refillEvery))
	}

	if r.tokens > 0 {
		r.tokens--
		r.metrics.AllowedRequests++
		return true, 0
	}

	r.metrics.RejectedRequests++
	return false, r.refillEvery - now.Sub(r.lastRefill)
}

// Wait blocks until a token is available or ctx is done.
func (r *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := r.TryAcquire()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (r *TokenBucketRateLimiter) Metrics() RateLimitMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}
