package cakemail

import (
	"sync"
	"time"
)

// CircuitState is the current state of the circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds circuit breaker tuning.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a
	// half-open trial.
	ResetTimeout time.Duration
}

// CircuitBreaker fails fast once an endpoint degrades: after
// FailureThreshold consecutive failures it opens and rejects calls without
// touching the network, then allows a single trial after ResetTimeout. A nil
// *CircuitBreaker passes everything through.
type CircuitBreaker struct {
	mu            sync.Mutex
	config        CircuitBreakerConfig
	state         CircuitState
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a breaker in the closed state. Zero config fields
// get defaults (threshold 5, reset 60s).
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = 60 * time.Second
	}
	return &CircuitBreaker{config: config, state: StateClosed}
}

// Allow reports whether a call may proceed. In the open state it flips to
// half-open once ResetTimeout has elapsed and admits exactly one trial;
// further calls are rejected until the trial resolves.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.ResetTimeout {
			cb.state = StateHalfOpen
			cb.trialInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the failure count; a successful half-open trial closes
// the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failures = 0
		cb.trialInFlight = false
	}
}

// RecordFailure counts a failure; reaching the threshold opens the circuit,
// and a failed half-open trial reopens it with a fresh timer.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.trialInFlight = false
	case StateOpen:
		// Already open; the timer is reset only by a failed trial.
	}
}

// ReleaseTrial resolves a half-open trial without judging the endpoint,
// freeing the slot so the next call may run a new trial. The executor calls
// it for outcomes that never reached the endpoint (cancellations, credential
// failures). No-op in other states.
func (cb *CircuitBreaker) ReleaseTrial() {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.trialInFlight = false
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	if cb == nil {
		return StateClosed
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	if cb == nil {
		return 0
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
