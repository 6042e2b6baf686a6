package execute

import (
	"errors"
	"sync"
)

// ErrCircuitOpen is returned by Dispatcher.Run when too many tasks failed
// in a row and no further tasks were launched.
var ErrCircuitOpen = errors.New("too many consecutive task failures")

// CircuitBreaker opens after Threshold consecutive failures. A threshold
// of zero or less never opens.
type CircuitBreaker struct {
	mu          sync.Mutex
	consecutive int
	threshold   int
	open        bool
}

// NewCircuitBreaker creates a circuit breaker with the given threshold.
func NewCircuitBreaker(threshold int) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold}
}

// RecordFailure increments the failure counter.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutive++
	if cb.threshold > 0 && cb.consecutive >= cb.threshold {
		cb.open = true
	}
}

// RecordSuccess resets the failure counter.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutive = 0
	cb.open = false
}

// Open reports whether the threshold was reached.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutive
}
