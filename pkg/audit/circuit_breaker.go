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

package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/tenant-control-plane/pkg/metrics"
)

// CircuitState is the state of a sink's breaker. The numeric value is exported
// as the audit_sink_circuit_state gauge.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	}
	return "unknown"
}

// CircuitBreakerConfig configures when a sink is taken out of rotation and
// how it is probed again.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit. Default: 5
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it. Default: 2
	SuccessThreshold int

	// OpenTimeout is the wait before the first probe. Default: 30s
	OpenTimeout time.Duration

	// HalfOpenMaxRequests bounds concurrent probes. Default: 1
	HalfOpenMaxRequests int

	OnStateChange func(from, to CircuitState)
	Clock         clock.PassiveClock
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = def.OpenTimeout
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	return c
}

// ErrCircuitOpen is returned instead of calling a sink whose circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerStats is a point-in-time view of a breaker.
type CircuitBreakerStats struct {
	State            CircuitState
	ConsecutiveFails int64
	TotalRequests    int64
	TotalFailures    int64
	TotalRejections  int64
	LastStateChange  time.Time
	LastError        error
}

// CircuitBreaker guards calls to one audit sink. All state sits behind a
// single mutex; the guarded call itself runs unlocked.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *zap.Logger

	mu        sync.Mutex
	stats     CircuitBreakerStats
	successes int
	probes    int
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	cfg = cfg.withDefaults()
	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: logger.Named("circuit-breaker").With(zap.String("sink", name)),
	}
	cb.stats.State = CircuitClosed
	cb.stats.LastStateChange = cfg.Clock.Now()
	metrics.AuditSinkCircuitState.WithLabelValues(name).Set(float64(CircuitClosed))
	return cb
}

// Execute runs fn unless the circuit is open. Failures and successes of fn
// drive the state machine.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	cb.record(probe, callErr)
	return callErr
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var change *stateChange
	defer func() {
		cb.mu.Unlock()
		cb.notify(change)
	}()

	if cb.stats.State == CircuitOpen && cb.cfg.Clock.Since(cb.stats.LastStateChange) >= cb.cfg.OpenTimeout {
		change = cb.setStateLocked(CircuitHalfOpen)
	}
	switch cb.stats.State {
	case CircuitClosed:
		cb.stats.TotalRequests++
		return false, nil
	case CircuitHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMaxRequests {
			cb.probes++
			cb.stats.TotalRequests++
			return true, nil
		}
	}
	cb.stats.TotalRejections++
	return false, ErrCircuitOpen
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	var change *stateChange
	defer func() {
		cb.mu.Unlock()
		cb.notify(change)
	}()

	if probe && cb.probes > 0 {
		cb.probes--
	}
	if err != nil {
		cb.stats.TotalFailures++
		cb.stats.LastError = err
		cb.stats.ConsecutiveFails++
		cb.successes = 0
		switch cb.stats.State {
		case CircuitClosed:
			if cb.stats.ConsecutiveFails >= int64(cb.cfg.FailureThreshold) {
				change = cb.setStateLocked(CircuitOpen)
			}
		case CircuitHalfOpen:
			change = cb.setStateLocked(CircuitOpen)
		}
		return
	}

	cb.stats.ConsecutiveFails = 0
	cb.successes++
	if cb.stats.State == CircuitHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
		change = cb.setStateLocked(CircuitClosed)
	}
}

type stateChange struct{ from, to CircuitState }

func (cb *CircuitBreaker) setStateLocked(to CircuitState) *stateChange {
	from := cb.stats.State
	if from == to {
		return nil
	}
	cb.stats.State = to
	cb.stats.LastStateChange = cb.cfg.Clock.Now()
	cb.stats.ConsecutiveFails = 0
	cb.successes = 0
	cb.probes = 0
	return &stateChange{from: from, to: to}
}

// notify runs outside the lock so callbacks may inspect the breaker.
func (cb *CircuitBreaker) notify(c *stateChange) {
	if c == nil {
		return
	}
	cb.logger.Info("circuit breaker state changed",
		zap.String("from", c.from.String()),
		zap.String("to", c.to.String()))
	metrics.AuditSinkCircuitState.WithLabelValues(cb.name).Set(float64(c.to))
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(c.from, c.to)
	}
}

func (cb *CircuitBreaker) transitionTo(to CircuitState) {
	cb.mu.Lock()
	change := cb.setStateLocked(to)
	cb.mu.Unlock()
	cb.notify(change)
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats.State
}

func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// ForceOpen takes the sink out of rotation until OpenTimeout passes.
func (cb *CircuitBreaker) ForceOpen() { cb.transitionTo(CircuitOpen) }

func (cb *CircuitBreaker) ForceClose() { cb.transitionTo(CircuitClosed) }

func (cb *CircuitBreaker) IsHealthy() bool { return cb.State() == CircuitClosed }

// CircuitBreakerSink is a Sink guarded by a CircuitBreaker.
type CircuitBreakerSink struct {
	Sink
	breaker *CircuitBreaker
}

func NewCircuitBreakerSink(sink Sink, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerSink {
	return &CircuitBreakerSink{Sink: sink, breaker: NewCircuitBreaker(sink.Name(), cfg, logger)}
}

func (s *CircuitBreakerSink) Write(ctx context.Context, event *Event) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.Sink.Write(ctx, event)
	})
}

func (s *CircuitBreakerSink) CircuitBreaker() *CircuitBreaker { return s.breaker }

func (s *CircuitBreakerSink) IsHealthy() bool { return s.breaker.IsHealthy() }
