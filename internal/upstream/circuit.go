package upstream

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // requests flow
	StateOpen                         // requests fail fast
	StateHalfOpen                     // one probe allowed
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after a run of consecutive upstream failures and lets a
// single probe through once the recovery interval has passed.
type CircuitBreaker struct {
	mu sync.Mutex

	state         CircuitState
	failures      int
	openedAt      time.Time
	probeInFlight bool

	failureThreshold      int
	recoveryProbeInterval time.Duration
	onChange              func(from, to CircuitState)
	now                   func() time.Time
}

// NewCircuitBreaker creates a closed breaker. onChange, if non-nil, is called
// with the lock held on every state transition and must not call back into
// the breaker.
func NewCircuitBreaker(failureThreshold int, recoveryProbeInterval time.Duration, onChange func(from, to CircuitState)) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		state:                 StateClosed,
		failureThreshold:      failureThreshold,
		recoveryProbeInterval: recoveryProbeInterval,
		onChange:              onChange,
		now:                   time.Now,
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState moves OPEN to HALF_OPEN once the probe interval elapsed.
// Must be called with mu held.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.recoveryProbeInterval {
		cb.transition(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.probeInFlight = false
	case StateClosed:
		cb.failures = 0
		cb.probeInFlight = false
	}
	if cb.onChange != nil {
		cb.onChange(from, to)
	}
}

// Allow reports whether a request may go upstream. In HALF_OPEN only the first
// caller gets through until its outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess records a request the upstream answered.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateClosed)
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure records a timeout, transport error or 5xx.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.failureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// Abandon releases a half-open probe whose caller went away before the
// upstream answered. The outcome counts neither way.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
	}
}
