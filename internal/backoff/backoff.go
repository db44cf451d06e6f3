// Package backoff provides delay calculation strategies for retry scheduling.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay to wait before a retry attempt. Attempt is
// zero-based: attempt 0 is the delay applied before the second try.
type Strategy interface {
	Delay(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitter grows the delay geometrically and adds uniform jitter of
// up to jitter*delay, capped at max.
type ExponentialJitter struct{}

func (ExponentialJitter) Delay(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30 // avoid float overflow on pathological attempt counts
	}

	delay := time.Duration(float64(base) * pow(multiplier, attempt))
	if delay < 0 || delay > max {
		delay = max
	}

	jitter = clamp(jitter)
	if jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+extra > max {
			delay = max
		} else {
			delay += extra
		}
	}
	return delay
}

// DecorrelatedJitter implements AWS-style decorrelated jitter: each delay is
// drawn uniformly from [base, min(max, base*3^attempt)]. The wider spread
// desynchronizes retry storms across independent clients.
type DecorrelatedJitter struct{}

func (DecorrelatedJitter) Delay(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 0 {
		return base
	}
	if attempt > 10 {
		attempt = 10
	}

	lo := float64(base)
	hi := lo * pow(3.0, attempt)
	if hi > float64(max) || hi < 0 {
		hi = float64(max)
	}
	if hi < lo {
		hi = lo
	}

	delay := time.Duration(lo + rand.Float64()*(hi-lo))
	if delay < 0 || delay > max {
		delay = max
	}
	return delay
}

func clamp(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
