// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// SinkType selects a secondary sink implementation.
type SinkType string

const (
	SinkTypeLog     SinkType = "log"
	SinkTypeWebhook SinkType = "webhook"
	SinkTypeKafka   SinkType = "kafka"
)

// SinkConfig describes one secondary sink.
type SinkConfig struct {
	Name    string
	Type    SinkType
	Webhook *WebhookSinkConfig
	Kafka   *KafkaSinkConfig
}

// ForwarderConfig configures the secondary sinks of the audit log.
type ForwarderConfig struct {
	Sinks          []SinkConfig
	Queue          QueuedSinkConfig
	CircuitBreaker CircuitBreakerConfig
}

// Forwarder fans committed audit events out to secondary sinks. Each sink has
// its own queue, so Emit never blocks a control mutation.
type Forwarder struct {
	logger *zap.Logger
	mu     sync.RWMutex
	multi  *IsolatedMultiSink
}

// NewForwarder builds the configured sinks. Sinks that fail to build are
// skipped with a warning; a forwarder without sinks drops every event.
func NewForwarder(cfg ForwarderConfig, logger *zap.Logger) *Forwarder {
	f := &Forwarder{logger: logger.Named("audit-forwarder")}

	var sinks []Sink
	for _, sc := range cfg.Sinks {
		sink, err := f.buildSink(sc)
		if err != nil {
			f.logger.Warn("failed to build audit sink, skipping",
				zap.String("name", sc.Name),
				zap.String("type", string(sc.Type)),
				zap.String("error", err.Error()))
			continue
		}
		// network sinks get a breaker so a dead endpoint stops costing write timeouts
		if sc.Type == SinkTypeKafka || sc.Type == SinkTypeWebhook {
			cbCfg := cfg.CircuitBreaker
			cbCfg.OnStateChange = func(from, to CircuitState) {
				f.logger.Info("audit sink circuit breaker state change",
					zap.String("sink", sink.Name()),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			}
			sink = NewCircuitBreakerSink(sink, cbCfg, f.logger)
		}
		sinks = append(sinks, sink)
	}

	if len(sinks) == 0 {
		f.logger.Info("no secondary audit sinks configured")
		return f
	}
	f.multi = NewIsolatedMultiSink(sinks, cfg.Queue, f.logger)
	f.logger.Info("audit forwarder configured", zap.Int("sinks", len(sinks)))
	return f
}

func (f *Forwarder) buildSink(sc SinkConfig) (Sink, error) {
	switch sc.Type {
	case SinkTypeLog:
		return NewLogSink(f.logger), nil
	case SinkTypeWebhook:
		if sc.Webhook == nil || sc.Webhook.URL == "" {
			return nil, fmt.Errorf("webhook config with url required for webhook sink")
		}
		cfg := *sc.Webhook
		if cfg.Name == "" {
			cfg.Name = sc.Name
		}
		return NewWebhookSink(cfg, f.logger), nil
	case SinkTypeKafka:
		if sc.Kafka == nil {
			return nil, fmt.Errorf("kafka config required for kafka sink")
		}
		cfg := *sc.Kafka
		if cfg.Name == "" {
			cfg.Name = sc.Name
		}
		return NewKafkaSink(cfg, f.logger)
	default:
		return nil, fmt.Errorf("unknown sink type: %s", sc.Type)
	}
}

// Emit queues event on every sink.
func (f *Forwarder) Emit(ctx context.Context, event *Event) {
	f.mu.RLock()
	multi := f.multi
	f.mu.RUnlock()
	if multi == nil || event == nil {
		return
	}
	_ = multi.Write(ctx, event)
}

// Health returns per-sink health, empty when no sinks are configured.
func (f *Forwarder) Health() []SinkHealth {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.multi == nil {
		return nil
	}
	return f.multi.Health()
}

// Close drains and closes every sink.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	multi := f.multi
	f.multi = nil
	f.mu.Unlock()
	if multi == nil {
		return nil
	}
	err := multi.Close()
	f.logger.Info("audit forwarder closed")
	return err
}
