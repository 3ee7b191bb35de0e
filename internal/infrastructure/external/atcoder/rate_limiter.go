package atcoder

import (
	"context"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Token Bucket implementation
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter is a token bucket shared by every request of one Client.
// kenkoooo asks clients to keep at least one second between requests.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens  float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time

	// blockedUntil is set by a 429 with Retry-After
	blockedUntil time.Time

	now func() time.Time
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerMinute is the sustained request rate.
	RequestsPerMinute int

	// Burst is the bucket size.
	Burst int
}

// DefaultRateLimiterConfig returns one request per second without bursts.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RequestsPerMinute: 60, Burst: 1}
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	rl := &RateLimiter{
		maxTokens:  float64(config.Burst),
		refillRate: float64(config.RequestsPerMinute) / 60,
		tokens:     float64(config.Burst),
		now:        time.Now,
	}
	rl.lastRefill = rl.now()
	return rl
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := rl.tryAcquire()
		if ok {
			return nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// tryAcquire takes a token or returns how long to wait for one.
func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.blockedUntil) {
		return rl.blockedUntil.Sub(now), false
	}

	rl.refill(now)
	if rl.tokens < 1 {
		needed := 1 - rl.tokens
		return time.Duration(needed / rl.refillRate * float64(time.Second)), false
	}

	rl.tokens--
	return 0, true
}

// refill must be called with the lock held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// RecordRateLimitHit empties the bucket and blocks every caller for
// retryAfter.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = 0
	rl.lastRefill = now
	if until := now.Add(retryAfter); until.After(rl.blockedUntil) {
		rl.blockedUntil = until
	}
}

// RateLimiterStatus is a point-in-time view for health output.
type RateLimiterStatus struct {
	AvailableTokens float64
	MaxTokens       float64
	BlockedUntil    time.Time
}

// Status returns the current status of the rate limiter.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(rl.now())

	return RateLimiterStatus{
		AvailableTokens: rl.tokens,
		MaxTokens:       rl.maxTokens,
		BlockedUntil:    rl.blockedUntil,
	}
}
