// Package resilience provides failure-isolation patterns for data sources,
// including the per-source circuit breaker.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // Normal operation
	CircuitOpen     CircuitState = "OPEN"      // Failing, rejecting requests
	CircuitHalfOpen CircuitState = "HALF_OPEN" // Single trial call allowed
)

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial is allowed.
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern for one source.
// After the cooldown, exactly one trial call passes through; its outcome
// decides whether the circuit closes or reopens.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu              sync.RWMutex
	state           CircuitState
	failures        int // consecutive failures while closed
	trialInFlight   bool
	openedAt        time.Time
	lastStateChange time.Time

	// Metrics
	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64

	now func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	now := time.Now
	return &CircuitBreaker{
		name:            name,
		config:          config,
		state:           CircuitClosed,
		lastStateChange: now(),
		now:             now,
	}
}

// ErrCircuitOpen is returned when a call is short-circuited.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Allow reports whether a call may proceed. A short-circuited call returns
// ErrCircuitOpen; the caller must report the outcome of an admitted call via
// RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.totalRequests++
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.Cooldown {
			cb.transitionTo(CircuitHalfOpen)
			cb.trialInFlight = true
			cb.totalRequests++
			return nil
		}
		cb.totalRejected++
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if cb.trialInFlight {
			cb.totalRejected++
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		cb.totalRequests++
		return nil
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++

	switch cb.state {
	case CircuitHalfOpen:
		cb.trialInFlight = false
		cb.transitionTo(CircuitClosed)
	case CircuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case CircuitHalfOpen:
		cb.trialInFlight = false
		cb.open()
	}
}

// Execute runs the given function with circuit breaker protection. A context
// timeout counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	case <-ctx.Done():
		cb.RecordFailure()
		return ctx.Err()
	}
}

// ExecuteWithResult runs a function returning a result with circuit breaker
// protection.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T

	if err := cb.Allow(); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			cb.RecordFailure()
			return zero, r.err
		}
		cb.RecordSuccess()
		return r.value, nil
	case <-ctx.Done():
		cb.RecordFailure()
		return zero, ctx.Err()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.transitionTo(CircuitOpen)
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.failures = 0
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.trialInFlight = false
	cb.lastStateChange = cb.now()
}

// CircuitBreakerStats holds circuit breaker statistics.
type CircuitBreakerStats struct {
	Name            string
	State           CircuitState
	TotalRequests   int64
	TotalSuccesses  int64
	TotalFailures   int64
	TotalRejected   int64
	CurrentFailures int
	OpenedAt        time.Time
	LastStateChange time.Time
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		TotalRequests:   cb.totalRequests,
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		CurrentFailures: cb.failures,
		OpenedAt:        cb.openedAt,
		LastStateChange: cb.lastStateChange,
	}
}

// FailureRate returns the failure rate as a percentage.
func (s CircuitBreakerStats) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalRequests) * 100
}
