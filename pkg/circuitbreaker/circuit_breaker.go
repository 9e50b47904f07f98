package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
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

// StateChangeFunc observes transitions; it runs with the breaker lock released
type StateChangeFunc func(name string, from, to State)

// CircuitBreaker guards calls to one remote endpoint
type CircuitBreaker struct {
	name             string
	maxFailures      uint32
	timeout          time.Duration
	halfOpenMaxCalls uint32

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint32

	onStateChange StateChangeFunc
	logger        *logrus.Logger
	now           func() time.Time
}

// New creates a new circuit breaker
func New(name string, maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	return NewWithLogger(name, maxFailures, timeout, logrus.New())
}

// NewWithLogger creates a new circuit breaker with a custom logger
func NewWithLogger(name string, maxFailures uint32, timeout time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if maxFailures == 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		timeout:          timeout,
		halfOpenMaxCalls: 3,
		state:            StateClosed,
		logger:           logger,
		now:              time.Now,
	}
}

// OnStateChange registers fn to be called on every transition
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// Execute runs fn unless the breaker is open. Failures of fn count toward tripping.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		cb.onFailure()
		return err
	}

	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	from := cb.state
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.halfOpenCalls = 1
			cb.successCount = 0
			allowed = true
		}
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.halfOpenMaxCalls {
			cb.halfOpenCalls++
			allowed = true
		}
	}

	if allowed {
		cb.requestCount++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
	if !allowed {
		return &CircuitBreakerError{Name: cb.name, State: to}
	}
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	from := cb.state

	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxCalls {
			cb.reset()
		}
	case StateClosed:
		cb.successCount++
		cb.failures = 0
	}

	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	from := cb.state

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
	}

	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
}

func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if from == to {
		return
	}

	entry := cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from":            from.String(),
		"state":           to.String(),
	})
	if to == StateOpen {
		entry.Warn("Circuit breaker opened due to failures")
	} else {
		entry.Info("Circuit breaker state changed")
	}

	cb.mu.Lock()
	fn := cb.onStateChange
	cb.mu.Unlock()
	if fn != nil {
		fn(cb.name, from, to)
	}
}

// GetState returns the current state. An open breaker whose timeout has
// elapsed still reports open until the next call probes it.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requestCount,
		Successes:       cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string
	State           State
	Failures        uint32
	Requests        uint32
	Successes       uint32
	LastFailureTime time.Time
}

// CircuitBreakerError represents an error when the circuit breaker is open
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if err, or anything it wraps, is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}

// Set lazily creates one breaker per key with shared settings
type Set struct {
	maxFailures uint32
	timeout     time.Duration
	logger      *logrus.Logger
	onChange    StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewSet creates an empty breaker set
func NewSet(maxFailures uint32, timeout time.Duration, logger *logrus.Logger, onChange StateChangeFunc) *Set {
	return &Set{
		maxFailures: maxFailures,
		timeout:     timeout,
		logger:      logger,
		onChange:    onChange,
		breakers:    make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it on first use
func (s *Set) Get(key string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[key]; ok {
		return cb
	}
	cb := NewWithLogger(key, s.maxFailures, s.timeout, s.logger)
	if s.onChange != nil {
		cb.OnStateChange(s.onChange)
	}
	s.breakers[key] = cb
	return cb
}

// Stats returns a snapshot of every breaker in the set
func (s *Set) Stats() []Stats {
	s.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, cb := range s.breakers {
		breakers = append(breakers, cb)
	}
	s.mu.Unlock()

	out := make([]Stats, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.GetStats())
	}
	return out
}
