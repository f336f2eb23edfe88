// Package safety guards calls to external services with a circuit breaker
// and a token bucket rate limiter.
package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker. A zero
// FailureThreshold disables the breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold int           `yaml:"success_threshold"` // half-open successes before closing
	Cooldown         time.Duration `yaml:"cooldown"`          // time open before a trial call
}

// DefaultCircuitBreakerConfig opens after five consecutive failures.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// Validate rejects negative settings.
func (c CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold < 0 || c.SuccessThreshold < 0 || c.Cooldown < 0 {
		return fmt.Errorf("circuit breaker settings must not be negative")
	}
	return nil
}

// CircuitBreaker stops calling a failing service until a cooldown passes,
// then lets trial calls through to decide whether to close again.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitBreakerState
	failures    int
	successes   int
	nextAttempt time.Time
	onChange    func(from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCircuitBreakerConfig().Cooldown
	}
	return &CircuitBreaker{name: name, config: config, now: time.Now}
}

// SetStateChangeCallback sets a callback run on every transition. It is
// called without the breaker's lock held.
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(from, to CircuitBreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = callback
}

// Call runs fn unless the breaker is open. Errors for which trips reports
// false pass through without counting as failures; a nil trips counts every
// error.
func (cb *CircuitBreaker) Call(fn func() error, trips func(error) bool) error {
	if cb.config.FailureThreshold <= 0 {
		return fn()
	}
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err == nil || (trips != nil && !trips(err)))
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}
	if cb.now().Before(cb.nextAttempt) {
		next := cb.nextAttempt
		cb.mu.Unlock()
		return fmt.Errorf("%s: %w until %s", cb.name, ErrCircuitOpen, next.Format(time.RFC3339))
	}
	notify := cb.transition(StateHalfOpen)
	cb.mu.Unlock()
	notify()
	return nil
}

func (cb *CircuitBreaker) after(success bool) {
	cb.mu.Lock()
	notify := func() {}
	if success {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				notify = cb.transition(StateClosed)
			}
		}
	} else {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			notify = cb.transition(StateOpen)
		}
	}
	cb.mu.Unlock()
	notify()
}

// transition changes state under the lock and returns the callback to run
// after unlocking.
func (cb *CircuitBreaker) transition(to CircuitBreakerState) func() {
	from := cb.state
	cb.state = to
	cb.successes = 0
	switch to {
	case StateOpen:
		cb.nextAttempt = cb.now().Add(cb.config.Cooldown)
	case StateClosed:
		cb.failures = 0
	}
	callback := cb.onChange
	if callback == nil || from == to {
		return func() {}
	}
	return func() { callback(from, to) }
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.transition(StateClosed)
	cb.mu.Unlock()
	notify()
}
