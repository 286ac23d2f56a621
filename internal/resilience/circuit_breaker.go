package resilience

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
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

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	Name             string        `json:"name"`
	FailureThreshold int           `json:"failure_threshold"` // failures before opening
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`  // wait before a half-open trial call
	SuccessThreshold int           `json:"success_threshold"` // half-open successes needed to close
	// IsFailure decides which errors count against the breaker; nil counts every error
	IsFailure func(error) bool `json:"-"`
}

// CircuitBreaker guards calls to an external dependency (GitHub, the ledger RPC)
type CircuitBreaker struct {
	config    CircuitBreakerConfig
	state     int32
	failures  int32
	successes int32

	mu          sync.Mutex
	nextAttempt time.Time
}

// NewCircuitBreaker creates a new circuit breaker with default configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 3
	}

	return &CircuitBreaker{
		config: config,
		state:  int32(StateClosed),
	}
}

// Call executes a function with circuit breaker protection
func (cb *CircuitBreaker) Call(fn func() error) error {
	state := cb.State()

	if state == StateOpen {
		cb.mu.Lock()
		wait := time.Now().Before(cb.nextAttempt)
		cb.mu.Unlock()
		if wait {
			return NewCircuitBreakerError(cb.config.Name+" circuit breaker is open", state)
		}
		cb.transition(StateHalfOpen)
		atomic.StoreInt32(&cb.successes, 0)
	}

	err := fn()
	if err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err)) {
		cb.onFailure()
		return err
	}

	cb.onSuccess()
	return err
}

func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	from := CircuitBreakerState(atomic.SwapInt32(&cb.state, int32(to)))
	if from != to {
		slog.Info("Circuit breaker state change",
			"breaker", cb.config.Name,
			"from", from.String(),
			"to", to.String())
	}
}

func (cb *CircuitBreaker) onFailure() {
	failures := atomic.AddInt32(&cb.failures, 1)
	atomic.StoreInt32(&cb.successes, 0)

	if failures >= int32(cb.config.FailureThreshold) || cb.State() == StateHalfOpen {
		cb.mu.Lock()
		cb.nextAttempt = time.Now().Add(cb.config.RecoveryTimeout)
		cb.mu.Unlock()
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	atomic.StoreInt32(&cb.failures, 0)

	if cb.State() == StateHalfOpen {
		successes := atomic.AddInt32(&cb.successes, 1)
		if successes >= int32(cb.config.SuccessThreshold) {
			cb.transition(StateClosed)
		}
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// Failures returns the current failure count
func (cb *CircuitBreaker) Failures() int {
	return int(atomic.LoadInt32(&cb.failures))
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.transition(StateClosed)
	atomic.StoreInt32(&cb.failures, 0)
	atomic.StoreInt32(&cb.successes, 0)
}

// Stats reports the breaker for the health endpoint
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"name":     cb.config.Name,
		"state":    cb.State().String(),
		"failures": cb.Failures(),
	}
}

// CircuitBreakerError represents an error from the circuit breaker
type CircuitBreakerError struct {
	Message string
	State   CircuitBreakerState
}

func (e *CircuitBreakerError) Error() string {
	return e.Message
}

// NewCircuitBreakerError creates a new circuit breaker error
func NewCircuitBreakerError(message string, state CircuitBreakerState) *CircuitBreakerError {
	return &CircuitBreakerError{
		Message: message,
		State:   state,
	}
}
