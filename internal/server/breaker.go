// breaker.go - Circuit breaker shielding the remote backup dependency.
//
// While the remote store is down the breaker fails calls fast instead
// of burning the operation gate's budget on timeouts.
package server

import (
	"errors"
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// errCircuitOpen is returned when the breaker rejects a call without
// attempting it.
var errCircuitOpen = errors.New("circuit breaker is open")

type circuitBreaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration

	state       circuitState
	failures    int
	lastFailure time.Time
}

func newCircuitBreaker(maxFailures int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       circuitClosed,
	}
}

// Execute runs fn unless the circuit is open. A failure in half-open
// state reopens immediately; one success closes the circuit again.
func (cb *circuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == circuitOpen {
		if time.Since(cb.lastFailure) > cb.cooldown {
			cb.state = circuitHalfOpen
		} else {
			cb.mu.Unlock()
			return errCircuitOpen
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures || cb.state == circuitHalfOpen {
			if cb.state != circuitOpen {
				Warn("backup_circuit_open", map[string]any{
					"failures": cb.failures,
					"cooldown": cb.cooldown.String(),
				})
			}
			cb.state = circuitOpen
		}
		return err
	}

	if cb.state != circuitClosed {
		Info("backup_circuit_closed", nil)
	}
	cb.state = circuitClosed
	cb.failures = 0
	return nil
}
