package fetcher

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the state of a circuitBreaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// errCircuitOpen names a request rejected by an open breaker without ever
// reaching the network. Fetcher.run does not return it: a rejected attempt
// is skipped, and a request whose attempts all end that way is reported to
// the sink as a failure that is not a timeout, with the last status seen.
var errCircuitOpen = errors.New("circuit breaker is open")

// circuitBreakerConfig tunes when a struggling origin gets cut off.
type circuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

func defaultCircuitBreakerConfig() circuitBreakerConfig {
	return circuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// circuitBreaker trips a host's fetches off after a run of consecutive
// failures, so a struggling origin doesn't keep eating request timeouts
// while the player retries into it.
type circuitBreaker struct {
	cfg circuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
}

func newCircuitBreaker(cfg circuitBreakerConfig) *circuitBreaker {
	return &circuitBreaker{cfg: cfg, state: CircuitClosed}
}

// State returns the current state, resolving an expired Open into HalfOpen.
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.cfg.Timeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *circuitBreaker) Allow() bool {
	s := cb.State()
	return s == CircuitClosed || s == CircuitHalfOpen
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.cfg.Timeout {
			cb.state = CircuitHalfOpen
			cb.successes = 1
		}
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	case CircuitOpen:
	}
}

func (cb *circuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitClosed {
		cb.transitionTo(CircuitClosed)
		return
	}
	cb.failures = 0
	cb.successes = 0
}

// transitionTo changes state; caller must hold the lock.
func (cb *circuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	cb.failures = 0
	cb.successes = 0
}
