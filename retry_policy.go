package cakemail

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cakemail/cakemail-go/internal/backoff"
)

// BackoffStrategy selects the delay distribution used between retries.
type BackoffStrategy int

const (
	// ExponentialJitter doubles the delay per attempt and adds uniform
	// jitter. The default.
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter draws each delay from a widening uniform range
	// (AWS-style), smoothing retry bursts across many clients.
	DecorrelatedJitter
)

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first. Policies are immutable after construction; replace the whole
// policy via WithRetryPolicy rather than mutating one in flight.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, the first included.
	MaxAttempts int
	// BaseDelay seeds the backoff for the first retry.
	BaseDelay time.Duration
	// MaxDelay caps every computed delay, Retry-After included.
	MaxDelay time.Duration
	// Multiplier is the geometric growth factor between retries.
	Multiplier float64
	// Jitter is the uniform jitter fraction in [0, 1].
	Jitter float64

	strategy backoff.Strategy
}

// NewRetryPolicy creates a policy with the default exponential-jitter
// strategy, multiplier 2 and jitter 0.1.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	return NewRetryPolicyWithStrategy(maxAttempts, baseDelay, maxDelay, 2.0, 0.1, ExponentialJitter)
}

// NewRetryPolicyWithStrategy creates a fully specified policy.
func NewRetryPolicyWithStrategy(maxAttempts int, baseDelay, maxDelay time.Duration, multiplier, jitter float64, strategy BackoffStrategy) *RetryPolicy {
	p := &RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		Multiplier:  multiplier,
		Jitter:      jitter,
	}
	switch strategy {
	case DecorrelatedJitter:
		p.strategy = backoff.DecorrelatedJitter{}
	default:
		p.strategy = backoff.ExponentialJitter{}
	}
	return p
}

// ShouldRetry reports whether the attempt that just completed (zero-based)
// should be retried, and the delay to wait first. Transport errors, 5xx and
// 429 responses are retryable; other statuses are not. A parseable
// Retry-After header on 429/503 responses overrides the computed backoff,
// capped at MaxDelay.
func (p *RetryPolicy) ShouldRetry(resp *http.Response, err error, attempt int) (time.Duration, bool) {
	if attempt+1 >= p.MaxAttempts {
		return 0, false
	}

	retryable := false
	var delay time.Duration

	if err != nil {
		retryable = true
	} else if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			retryable = true
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
				delay = parseRetryAfter(resp.Header.Get("Retry-After"))
			}
		}
	}

	if !retryable {
		return 0, false
	}

	if delay == 0 {
		delay = p.Delay(attempt)
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay, true
}

// Delay computes the backoff for the given zero-based completed attempt.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	return p.strategy.Delay(attempt, p.BaseDelay, p.MaxDelay, p.Multiplier, p.Jitter)
}

// parseRetryAfter supports both delay-seconds and HTTP-date formats. Returns
// 0 when the header is absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}
