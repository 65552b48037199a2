// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"sync"
	"time"

	"github.com/jllopis/concierge/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes that close it again.
	SuccessThreshold int

	// Cooldown is how long the circuit stays open before letting a probe through.
	Cooldown time.Duration

	// Name identifies the breaker in errors and logs.
	Name string
}

// CircuitBreaker stops calling a failing backend for a while. It is safe for
// concurrent use; the guarded call itself runs outside the lock so sessions
// sharing one breaker never serialize on it.
type CircuitBreaker struct {
	config   CircuitBreakerConfig
	now      func() time.Time
	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	success  int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}
	return &CircuitBreaker{config: config, now: time.Now, state: StateClosed}
}

// Allow reports whether a call may proceed. An open circuit returns a
// recoverable errors.CodeUnavailable.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
		cb.state = StateHalfOpen
		cb.success = 0
	}
	if cb.state == StateOpen {
		return errors.New(errors.CodeUnavailable, "circuit breaker open", nil).
			WithContext("breaker", cb.config.Name).
			WithRecoverable(true)
	}
	return nil
}

// Record feeds the outcome of an allowed call back into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		if cb.state == StateHalfOpen {
			cb.trip()
			return
		}
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.trip()
		}
		return
	}

	switch cb.state {
	case StateHalfOpen:
		cb.success++
		if cb.success >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
		}
	case StateClosed:
		cb.failures = 0
	}
}

// Call runs fn under the breaker.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Record(err)
	return err
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = 0
	cb.success = 0
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.success = 0
}
