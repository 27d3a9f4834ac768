package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal: requests flow through
	CircuitOpen                         // Tripped: requests denied immediately
	CircuitHalfOpen                     // Probe: one request allowed to test recovery
)

// CircuitBreaker tracks provider failures and opens the circuit when repeated
// failures exceed the threshold within a window. Only transport-level
// failures (timeouts, 5xx, connection errors) feed the breaker; a rejected
// request (invalid input) does not.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  []time.Time
	state     CircuitState
	openedAt  time.Time
	threshold int
	window    time.Duration
	probing   bool
}

// NewCircuitBreaker creates a circuit breaker with the given threshold and
// window. threshold: failures in window to trip the circuit (default 5).
// window: sliding window duration (default 60s).
func NewCircuitBreaker(threshold int, window time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, window: window}
}

// Check returns nil if a call may proceed, or ErrCircuitOpen if the circuit
// is open. In half-open state, one probe request is allowed.
func (cb *CircuitBreaker) Check() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.openedAt) > cb.window {
			cb.state = CircuitHalfOpen
			cb.probing = true
			return nil
		}
		return fmt.Errorf("%w: provider suspended after repeated failures", ErrCircuitOpen)
	case CircuitHalfOpen:
		if cb.probing {
			return fmt.Errorf("%w: probe already in progress", ErrCircuitOpen)
		}
		cb.probing = true
		return nil
	}
	return nil
}

// RecordSuccess closes the circuit and clears the failure window.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = nil
	cb.state = CircuitClosed
	cb.probing = false
}

// RecordFailure registers a provider failure; trips the circuit when the
// threshold is reached within the window.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	if cb.state == CircuitHalfOpen {
		// Failed probe re-opens immediately.
		cb.state = CircuitOpen
		cb.openedAt = now
		cb.probing = false
		return
	}

	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = append(kept, now)

	if len(cb.failures) >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = now
		cb.failures = nil
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GuardedProvider wraps a Provider with a circuit breaker. When the circuit
// is open, Generate fails fast with ErrCircuitOpen instead of waiting out a
// timeout against a dead endpoint.
type GuardedProvider struct {
	Provider
	breaker *CircuitBreaker
}

// NewGuardedProvider wraps the provider with the given breaker.
func NewGuardedProvider(p Provider, breaker *CircuitBreaker) *GuardedProvider {
	return &GuardedProvider{Provider: p, breaker: breaker}
}

// Generate checks the circuit before delegating to the wrapped provider.
func (g *GuardedProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := g.breaker.Check(); err != nil {
		return nil, err
	}
	resp, err := g.Provider.Generate(ctx, req)
	if err != nil {
		g.breaker.RecordFailure()
		return nil, err
	}
	g.breaker.RecordSuccess()
	return resp, nil
}
