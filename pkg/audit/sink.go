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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink is a secondary destination for committed audit events. The primary
// record is the storage audit table; sinks only mirror it.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
	Name() string
}

// eventFields flattens an event into zap fields. Only the populated parts of
// the entry or failure are included.
func eventFields(event *Event) []zap.Field {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.ActorID != "" {
		fields = append(fields, zap.String("actor", event.ActorID))
	}
	if event.TenantID != "" {
		fields = append(fields, zap.String("tenant", event.TenantID))
	}
	if e := event.Entry; e != nil {
		fields = append(fields,
			zap.Int64("seq", e.Seq),
			zap.String("target_kind", string(e.TargetKind)),
			zap.String("target_key", e.TargetKey),
			zap.Bool("new_value", e.NewValue))
		if e.PreviousValue != nil {
			fields = append(fields, zap.Bool("previous_value", *e.PreviousValue))
		}
		if e.Reason != "" {
			fields = append(fields, zap.String("reason", e.Reason))
		}
	}
	if f := event.Failure; f != nil {
		fields = append(fields,
			zap.String("failure_id", f.ID),
			zap.String("category", string(f.Category)),
			zap.String("source", f.Source),
			zap.String("failure_severity", string(f.Severity)),
			zap.String("message", f.Message))
	}
	return fields
}

// LogSink writes every event as one structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Write(_ context.Context, event *Event) error {
	s.logger.Info("audit_event", eventFields(event)...)
	return nil
}

func (s *LogSink) Close() error { return nil }

func (s *LogSink) Name() string { return "log" }

// WebhookSinkConfig configures a WebhookSink. Timeout defaults to 5s.
type WebhookSinkConfig struct {
	Name    string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// WebhookSink POSTs each event as JSON. Any status >= 400 is a failure.
type WebhookSink struct {
	cfg    WebhookSinkConfig
	client *http.Client
	logger *zap.Logger

	written atomic.Int64
	failed  atomic.Int64
}

func NewWebhookSink(cfg WebhookSinkConfig, logger *zap.Logger) *WebhookSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	s := &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("webhook-sink").With(zap.String("sink", cfg.Name)),
	}
	s.logger.Info("webhook audit sink created", zap.String("url", cfg.URL), zap.Duration("timeout", cfg.Timeout))
	return s
}

func (s *WebhookSink) newRequest(ctx context.Context, event *Event) (*http.Request, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event %s: %w", event.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Audit-Event-Type", string(event.Type))
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (s *WebhookSink) Write(ctx context.Context, event *Event) error {
	err := s.send(ctx, event)
	if err != nil {
		s.failed.Add(1)
		s.logger.Debug("webhook delivery failed", zap.String("event_id", event.ID), zap.Error(err))
		return err
	}
	s.written.Add(1)
	return nil
}

func (s *WebhookSink) send(ctx context.Context, event *Event) error {
	req, err := s.newRequest(ctx, event)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send audit event to %s: %w", s.cfg.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook %s returned status %d", s.cfg.URL, resp.StatusCode)
	}
	return nil
}

func (s *WebhookSink) Stats() (written, failed int64) {
	return s.written.Load(), s.failed.Load()
}

func (s *WebhookSink) Close() error {
	s.logger.Info("closing webhook audit sink",
		zap.Int64("events_written", s.written.Load()),
		zap.Int64("events_failed", s.failed.Load()))
	return nil
}

func (s *WebhookSink) Name() string { return s.cfg.Name }
