// Package circuitbreaker stops calling a failing dependency for a cool-down
// period after repeated failures.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bucket-tracker/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means requests are allowed
	StateClosed State = "closed"
	// StateOpen means requests are rejected until the timeout elapses
	StateOpen State = "open"
	// StateHalfOpen means a limited number of trial requests are allowed
	StateHalfOpen State = "half_open"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open trial budget is used up
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config configures a circuit breaker
type Config struct {
	Name             string
	MaxFailures      int           // Consecutive failures that open the circuit
	Timeout          time.Duration // Time spent open before trying half-open
	HalfOpenMaxCalls int           // Successful trials needed to close again
	// IsFailure decides which errors count against the circuit. Nil counts
	// every error.
	IsFailure func(err error) bool
	// Now overrides the clock
	Now func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenCalls    int
	halfOpenSuccess  int
	lastStateChange  time.Time
	lastFailure      error
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	cfg := *config
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &CircuitBreaker{
		cfg:             cfg,
		state:           StateClosed,
		lastStateChange: cfg.Now(),
	}
}

// Execute runs fn unless the circuit is open, and records its outcome
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(ctx); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(ctx, err)
	return err
}

func (cb *CircuitBreaker) beforeRequest(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.cfg.Now().Sub(cb.lastStateChange) < cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.setState(ctx, StateHalfOpen)
		cb.halfOpenCalls = 1
		return nil
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			return ErrTooManyRequests
		}
		cb.halfOpenCalls++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || (cb.cfg.IsFailure != nil && !cb.cfg.IsFailure(err)) {
		cb.onSuccess(ctx)
		return
	}
	cb.onFailure(ctx, err)
}

func (cb *CircuitBreaker) onSuccess(ctx context.Context) {
	cb.consecutiveFails = 0
	if cb.state != StateHalfOpen {
		return
	}
	cb.halfOpenSuccess++
	if cb.halfOpenSuccess >= cb.cfg.HalfOpenMaxCalls {
		cb.setState(ctx, StateClosed)
	}
}

func (cb *CircuitBreaker) onFailure(ctx context.Context, err error) {
	cb.consecutiveFails++
	cb.lastFailure = err

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFails >= cb.cfg.MaxFailures {
			cb.setState(ctx, StateOpen)
		}
	case StateHalfOpen:
		cb.setState(ctx, StateOpen)
	}
}

// setState changes state and resets the half-open counters. Caller holds mu.
func (cb *CircuitBreaker) setState(ctx context.Context, state State) {
	if cb.state == state {
		return
	}
	cb.state = state
	cb.lastStateChange = cb.cfg.Now()
	cb.halfOpenCalls = 0
	cb.halfOpenSuccess = 0

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"circuitBreaker":   cb.cfg.Name,
		"state":            string(state),
		"consecutiveFails": cb.consecutiveFails,
	})
	if state == StateOpen {
		logger.WithError(cb.lastFailure).Warn("Circuit breaker opened")
	} else {
		logger.Info("Circuit breaker state changed")
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// GetStats returns a snapshot of the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:             cb.cfg.Name,
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFails,
		LastStateChange:  cb.lastStateChange,
	}
}

// Reset closes the circuit and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.setState(context.Background(), StateClosed)
}
