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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/metrics"
)

// QueuedSinkConfig bounds the per-sink queue and the time spent on one write.
type QueuedSinkConfig struct {
	// QueueSize default: 1000
	QueueSize int

	// WorkerCount default: 1. More than one worker gives up per-sink ordering.
	WorkerCount int

	// WriteTimeout default: 5s
	WriteTimeout time.Duration
}

func DefaultQueuedSinkConfig() QueuedSinkConfig {
	return QueuedSinkConfig{QueueSize: 1000, WorkerCount: 1, WriteTimeout: 5 * time.Second}
}

// SinkHealth is reported per sink by Forwarder.Health.
type SinkHealth struct {
	Name             string    `json:"name"`
	Healthy          bool      `json:"healthy"`
	QueueLength      int       `json:"queueLength"`
	QueueCapacity    int       `json:"queueCapacity"`
	DroppedEvents    int64     `json:"droppedEvents"`
	ProcessedEvents  int64     `json:"processedEvents"`
	FailedEvents     int64     `json:"failedEvents"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	CircuitState     string    `json:"circuitState"`
	LastError        string    `json:"lastError,omitempty"`
	LastErrorTime    time.Time `json:"lastErrorTime,omitempty"`
	LastSuccessTime  time.Time `json:"lastSuccessTime,omitempty"`
}

// breakerSink is implemented by sinks wrapped in a circuit breaker.
type breakerSink interface {
	CircuitBreaker() *CircuitBreaker
}

// QueuedSink gives one sink its own buffered queue and workers. Write never
// blocks: a full queue drops the event and counts it.
type QueuedSink struct {
	sink   Sink
	cfg    QueuedSinkConfig
	logger *zap.Logger
	queue  chan *Event
	wg     sync.WaitGroup

	// dropped is counted under the read lock held by Write
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	health SinkHealth
}

func NewQueuedSink(sink Sink, cfg QueuedSinkConfig, logger *zap.Logger) *QueuedSink {
	def := DefaultQueuedSinkConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	qs := &QueuedSink{
		sink:   sink,
		cfg:    cfg,
		logger: logger.Named("queued-sink").With(zap.String("sink", sink.Name())),
		queue:  make(chan *Event, cfg.QueueSize),
		health: SinkHealth{Name: sink.Name(), QueueCapacity: cfg.QueueSize},
	}
	qs.wg.Add(cfg.WorkerCount)
	for w := 0; w < cfg.WorkerCount; w++ {
		go qs.worker(w)
	}
	qs.logger.Info("queued sink started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.Duration("write_timeout", cfg.WriteTimeout))
	return qs
}

func (qs *QueuedSink) drop(reason string) {
	qs.dropped.Add(1)
	metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name(), reason).Inc()
}

// Write enqueues event. It only fails once the sink is closed.
func (qs *QueuedSink) Write(_ context.Context, event *Event) error {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	if qs.closed {
		metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name(), "closed").Inc()
		return fmt.Errorf("queued sink %s is closed", qs.sink.Name())
	}
	select {
	case qs.queue <- event:
	default:
		qs.drop("queue_full")
		qs.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
	return nil
}

func (qs *QueuedSink) worker(id int) {
	defer qs.wg.Done()
	for event := range qs.queue {
		qs.deliver(id, event)
	}
}

func (qs *QueuedSink) deliver(worker int, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), qs.cfg.WriteTimeout)
	err := qs.sink.Write(ctx, event)
	cancel()

	switch {
	case err == nil:
		qs.mu.Lock()
		qs.health.ProcessedEvents++
		qs.health.ConsecutiveFails = 0
		qs.health.LastSuccessTime = time.Now()
		qs.mu.Unlock()
		metrics.AuditEventsProcessed.WithLabelValues(qs.sink.Name()).Inc()
	case errors.Is(err, ErrCircuitOpen):
		qs.drop("circuit_open")
	default:
		qs.mu.Lock()
		qs.health.FailedEvents++
		qs.health.ConsecutiveFails++
		qs.health.LastError = err.Error()
		qs.health.LastErrorTime = time.Now()
		fails := qs.health.ConsecutiveFails
		qs.mu.Unlock()
		metrics.AuditSinkErrors.WithLabelValues(qs.sink.Name()).Inc()
		qs.logger.Error("failed to write audit event",
			zap.Int("worker", worker),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
			zap.Int("consecutive_fails", fails))
	}
}

// Health is healthy when the circuit is closed, the queue is below 80% and the
// sink either never failed or succeeded within the last minute.
func (qs *QueuedSink) Health() SinkHealth {
	qs.mu.RLock()
	h := qs.health
	qs.mu.RUnlock()

	h.DroppedEvents = qs.dropped.Load()
	h.QueueLength = len(qs.queue)
	h.CircuitState = "none"
	circuitOK := true
	if b, ok := qs.sink.(breakerSink); ok {
		state := b.CircuitBreaker().State()
		h.CircuitState = state.String()
		circuitOK = state == CircuitClosed
	}
	recent := h.LastErrorTime.IsZero() || time.Since(h.LastSuccessTime) < time.Minute
	h.Healthy = circuitOK && h.QueueLength*5 < h.QueueCapacity*4 && recent
	return h
}

// Close stops accepting events, drains the queue and closes the sink.
func (qs *QueuedSink) Close() error {
	qs.mu.Lock()
	if qs.closed {
		qs.mu.Unlock()
		return nil
	}
	qs.closed = true
	close(qs.queue)
	qs.mu.Unlock()

	qs.wg.Wait()
	return qs.sink.Close()
}

func (qs *QueuedSink) Name() string { return qs.sink.Name() }

// IsolatedMultiSink broadcasts to several QueuedSinks so one slow sink never
// delays another.
type IsolatedMultiSink struct {
	sinks []*QueuedSink
}

func NewIsolatedMultiSink(sinks []Sink, cfg QueuedSinkConfig, logger *zap.Logger) *IsolatedMultiSink {
	m := &IsolatedMultiSink{sinks: make([]*QueuedSink, 0, len(sinks))}
	for _, s := range sinks {
		m.sinks = append(m.sinks, NewQueuedSink(s, cfg, logger))
	}
	return m
}

func (m *IsolatedMultiSink) Write(ctx context.Context, event *Event) error {
	for _, qs := range m.sinks {
		_ = qs.Write(ctx, event)
	}
	return nil
}

func (m *IsolatedMultiSink) Close() error {
	var errs []error
	for _, qs := range m.sinks {
		errs = append(errs, qs.Close())
	}
	return errors.Join(errs...)
}

func (m *IsolatedMultiSink) Name() string { return "isolated-multi" }

func (m *IsolatedMultiSink) Health() []SinkHealth {
	out := make([]SinkHealth, 0, len(m.sinks))
	for _, qs := range m.sinks {
		out = append(out, qs.Health())
	}
	return out
}

func (m *IsolatedMultiSink) IsHealthy() bool {
	for _, qs := range m.sinks {
		if !qs.Health().Healthy {
			return false
		}
	}
	return true
}
