package cakemail

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by all requests on a client. Tokens
// refill continuously at refillRate per second up to capacity; each admitted
// request debits one token. A nil *RateLimiter disables rate limiting.
type RateLimiter struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a bucket that starts full.
func NewRateLimiter(capacity int, refillRate float64) *RateLimiter {
	return &RateLimiter{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until one token is available, then debits it. When the
// bucket is empty it computes the exact wait needed to cover the deficit and
// sleeps that long before rechecking, so callers never return earlier than
// their earliest allowed time. Cancelling ctx aborts the wait.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if rl == nil {
		return nil
	}

	for {
		rl.mu.Lock()
		rl.refill(time.Now())
		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		deficit := 1 - rl.tokens
		wait := time.Duration(deficit / rl.refillRate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow debits a token if one is available, without blocking.
func (rl *RateLimiter) Allow() bool {
	if rl == nil {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens returns the current token count for observability.
func (rl *RateLimiter) Tokens() float64 {
	if rl == nil {
		return -1
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	return rl.tokens
}

// refill adds the fractional tokens accrued since lastRefill. Callers hold mu.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}
