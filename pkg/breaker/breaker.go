/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package breaker implements a closed/open/half-open circuit breaker shared
// by notification providers and audit sinks.
package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/metrics"
)

// State represents the current state of the circuit breaker.
type State int32

const (
	// Closed indicates normal operation - calls flow through.
	Closed State = iota
	// Open indicates the circuit is tripped - calls are rejected.
	Open
	// HalfOpen indicates the circuit is probing with a limited number of calls.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the circuit breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes in half-open state
	// required to close the circuit.
	// Default: 2
	SuccessThreshold int

	// OpenTimeout is how long to wait before transitioning from open to half-open.
	// Default: 30s
	OpenTimeout time.Duration

	// HalfOpenMaxRequests is the maximum number of calls allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is an optional callback when the circuit state changes.
	OnStateChange func(from, to State)

	// IsFailure decides whether an error counts against the circuit. Nil
	// counts every error.
	IsFailure func(error) bool
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// ErrOpen is returned when the circuit breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker prevents cascading failures by temporarily rejecting calls to a
// failing dependency.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    func() time.Time

	state            atomic.Int32
	consecutiveFails atomic.Int64
	consecutiveSuccs atomic.Int64
	halfOpenRequests atomic.Int64
	lastStateChange  atomic.Value // time.Time
	lastError        atomic.Value // error

	totalRequests   atomic.Int64
	totalFailures   atomic.Int64
	totalRejections atomic.Int64

	mu sync.Mutex
}

// New creates a breaker identified by name in logs and metrics.
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:   name,
		config: cfg,
		logger: logger.Named("circuit-breaker").With(zap.String("breaker", name)),
		now:    time.Now,
	}
	b.state.Store(int32(Closed))
	b.lastStateChange.Store(b.now())
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(Closed))
	return b
}

// Execute runs fn unless the circuit is open, in which case ErrOpen is returned.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.canExecute() {
		b.totalRejections.Add(1)
		metrics.CircuitBreakerRejections.WithLabelValues(b.name).Inc()
		return ErrOpen
	}
	b.totalRequests.Add(1)

	err := fn(ctx)
	if err != nil && (b.config.IsFailure == nil || b.config.IsFailure(err)) {
		b.recordFailure(err)
		return err
	}
	b.recordSuccess()
	return err
}

func (b *Breaker) canExecute() bool {
	switch State(b.state.Load()) {
	case Closed:
		return true
	case Open:
		lastChange, ok := b.lastStateChange.Load().(time.Time)
		if ok && b.now().Sub(lastChange) >= b.config.OpenTimeout {
			b.transitionTo(HalfOpen)
			return b.admitHalfOpen()
		}
		return false
	case HalfOpen:
		return b.admitHalfOpen()
	default:
		return false
	}
}

func (b *Breaker) admitHalfOpen() bool {
	if b.halfOpenRequests.Add(1) <= int64(b.config.HalfOpenMaxRequests) {
		return true
	}
	b.halfOpenRequests.Add(-1)
	return false
}

func (b *Breaker) recordSuccess() {
	b.consecutiveFails.Store(0)
	successes := b.consecutiveSuccs.Add(1)
	if State(b.state.Load()) == HalfOpen {
		b.halfOpenRequests.Add(-1)
		if int(successes) >= b.config.SuccessThreshold {
			b.transitionTo(Closed)
		}
	}
}

func (b *Breaker) recordFailure(err error) {
	b.totalFailures.Add(1)
	b.consecutiveSuccs.Store(0)
	b.lastError.Store(err)
	failures := b.consecutiveFails.Add(1)

	switch State(b.state.Load()) {
	case Closed:
		if int(failures) >= b.config.FailureThreshold {
			b.transitionTo(Open)
		}
	case HalfOpen:
		// any failure while probing trips back to open
		b.transitionTo(Open)
	}
}

func (b *Breaker) transitionTo(next State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := State(b.state.Load())
	if prev == next {
		return
	}
	b.state.Store(int32(next))
	b.lastStateChange.Store(b.now())
	b.consecutiveFails.Store(0)
	b.consecutiveSuccs.Store(0)
	b.halfOpenRequests.Store(0)

	b.logger.Info("circuit breaker state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()))
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(float64(next))

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(prev, next)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Name returns the breaker identifier.
func (b *Breaker) Name() string {
	return b.name
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	State            State
	ConsecutiveFails int64
	TotalRequests    int64
	TotalFailures    int64
	TotalRejections  int64
	LastStateChange  time.Time
	LastError        error
}

func (b *Breaker) Stats() Stats {
	s := Stats{
		State:            State(b.state.Load()),
		ConsecutiveFails: b.consecutiveFails.Load(),
		TotalRequests:    b.totalRequests.Load(),
		TotalFailures:    b.totalFailures.Load(),
		TotalRejections:  b.totalRejections.Load(),
	}
	if t, ok := b.lastStateChange.Load().(time.Time); ok {
		s.LastStateChange = t
	}
	if err, ok := b.lastError.Load().(error); ok {
		s.LastError = err
	}
	return s
}

// ForceOpen forces the circuit to open state (for testing/maintenance).
func (b *Breaker) ForceOpen() {
	b.transitionTo(Open)
}

// ForceClose forces the circuit to closed state (for recovery).
func (b *Breaker) ForceClose() {
	b.transitionTo(Closed)
}

// IsHealthy returns true if the circuit is closed.
func (b *Breaker) IsHealthy() bool {
	return b.State() == Closed
}
