package browser

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces out login attempts per platform. Rapid repeated
// logins against the same identity provider tend to trip lockouts and
// bot detection.
type RateLimiter struct {
	limiters     map[string]*platformLimiter
	mu           sync.RWMutex
	defaultDelay time.Duration
}

// platformLimiter tracks pacing for a single platform
type platformLimiter struct {
	lastAttempt time.Time
	mu          sync.Mutex
	delay       time.Duration
}

// NewRateLimiter creates a new rate limiter with the specified default delay
func NewRateLimiter(defaultDelay time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters:     make(map[string]*platformLimiter),
		defaultDelay: defaultDelay,
	}
}

// Wait blocks until the pacing interval for the platform has elapsed
// (with context cancellation support)
func (rl *RateLimiter) Wait(ctx context.Context, platformID string) error {
	if platformID == "" || rl.defaultDelay <= 0 {
		return nil
	}

	rl.mu.Lock()
	limiter, exists := rl.limiters[platformID]
	if !exists {
		limiter = &platformLimiter{
			delay: rl.defaultDelay,
		}
		rl.limiters[platformID] = limiter
	}
	rl.mu.Unlock()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := time.Now()
	nextAllowed := limiter.lastAttempt.Add(limiter.delay)

	if now.Before(nextAllowed) {
		timer := time.NewTimer(nextAllowed.Sub(now))
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	limiter.lastAttempt = time.Now()
	return nil
}

// SetPlatformDelay sets a custom pacing interval for a specific platform
func (rl *RateLimiter) SetPlatformDelay(platformID string, delay time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[platformID]
	if !exists {
		rl.limiters[platformID] = &platformLimiter{delay: delay}
	} else {
		limiter.mu.Lock()
		limiter.delay = delay
		limiter.mu.Unlock()
	}
}
