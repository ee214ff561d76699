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
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"
)

// KafkaSinkConfig configures a KafkaSink. Zero values take the defaults noted
// on each field.
type KafkaSinkConfig struct {
	Name    string
	Brokers []string
	Topic   string
	TLS     *KafkaTLSConfig
	SASL    *KafkaSASLConfig

	// BatchSize default: 100
	BatchSize int

	// BatchTimeout default: 1s
	BatchTimeout time.Duration

	// WriteTimeout default: 10s
	WriteTimeout time.Duration

	// RequiredAcks is -1 (all replicas) or 1 (leader). 0 means the default, -1.
	RequiredAcks int

	// CompressionCodec is none, gzip, snappy (default), lz4 or zstd.
	CompressionCodec string
}

// KafkaTLSConfig carries PEM material read from disk by the config loader.
type KafkaTLSConfig struct {
	Enabled            bool
	CACert             []byte
	ClientCert         []byte
	ClientKey          []byte
	InsecureSkipVerify bool
}

// KafkaSASLConfig selects PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
type KafkaSASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

var kafkaCodecs = map[string]kafka.Compression{
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

func (c KafkaSinkConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one Kafka broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka topic is required")
	}
	return nil
}

func (c KafkaSinkConfig) transport() (*kafka.Transport, error) {
	t := &kafka.Transport{}
	if c.TLS != nil && c.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(c.TLS)
		if err != nil {
			return nil, fmt.Errorf("kafka TLS: %w", err)
		}
		t.TLS = tlsConfig
	}
	if c.SASL != nil && c.SASL.Mechanism != "" {
		mechanism, err := buildSASLMechanism(c.SASL)
		if err != nil {
			return nil, fmt.Errorf("kafka SASL: %w", err)
		}
		t.SASL = mechanism
	}
	return t, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// kafkaWriter is the part of *kafka.Writer the sink needs.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes audit events as JSON. Messages are keyed by tenant, or
// by target key for platform-wide events, so one tenant's history stays on a
// single partition in commit order.
type KafkaSink struct {
	name   string
	writer kafkaWriter
	logger *zap.Logger

	mu           sync.Mutex
	closed       bool
	disconnected bool
	written      int64
	failed       int64
}

func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	transport, err := cfg.transport()
	if err != nil {
		return nil, err
	}

	codec, ok := kafkaCodecs[strings.ToLower(cfg.CompressionCodec)]
	if !ok {
		if cfg.CompressionCodec != "" {
			logger.Warn("unknown compression codec, defaulting to snappy", zap.String("codec", cfg.CompressionCodec))
		}
		codec = kafka.Snappy
	}
	acks := kafka.RequireAll
	if cfg.RequiredAcks > 0 {
		acks = kafka.RequiredAcks(cfg.RequiredAcks)
	}

	name := cfg.Name
	if name == "" {
		name = "kafka"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    orDefault(cfg.BatchSize, 100),
		BatchTimeout: orDefault(cfg.BatchTimeout, time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 10*time.Second),
		RequiredAcks: acks,
		Compression:  codec,
		Transport:    transport,
	}

	logger.Info("kafka audit sink created",
		zap.String("name", name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("tls", transport.TLS != nil),
		zap.Bool("sasl", transport.SASL != nil))
	return newKafkaSinkWithWriter(name, writer, logger), nil
}

func newKafkaSinkWithWriter(name string, w kafkaWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{name: name, writer: w, logger: logger.Named("kafka-audit")}
}

// kafkaErrorClasses is checked in order against the error text once the typed
// checks in classifyKafkaError found nothing.
var kafkaErrorClasses = []struct {
	class   string
	needles []string
}{
	{"auth", []string{"SASL", "authentication"}},
	{"authorization", []string{"authorization", "ACL"}},
	{"timeout", []string{"timeout", "timed out"}},
	{"network", []string{"connection refused", "no such host"}},
	{"broker", []string{"broker", "leader"}},
	{"topic", []string{"topic"}},
	{"tls", []string{"TLS", "certificate"}},
}

// classifyKafkaError buckets an error for logs and the returned message.
func classifyKafkaError(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	msg := err.Error()
	for _, c := range kafkaErrorClasses {
		for _, n := range c.needles {
			if strings.Contains(msg, n) {
				return c.class
			}
		}
	}
	return "other"
}

func partitionKey(event *Event) []byte {
	switch {
	case event.TenantID != "":
		return []byte(event.TenantID)
	case event.Entry != nil:
		return []byte(event.Entry.TargetKey)
	}
	return []byte(event.ID)
}

func eventHeaders(event *Event) []kafka.Header {
	h := []kafka.Header{
		{Key: "event-type", Value: []byte(event.Type)},
		{Key: "severity", Value: []byte(event.Severity)},
		{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
	}
	if event.ActorID != "" {
		h = append(h, kafka.Header{Key: "actor", Value: []byte(event.ActorID)})
	}
	if event.TenantID != "" {
		h = append(h, kafka.Header{Key: "tenant", Value: []byte(event.TenantID)})
	}
	return h
}

func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("kafka sink is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		s.record(err)
		return fmt.Errorf("marshal audit event %s: %w", event.ID, err)
	}

	start := time.Now()
	err = s.writer.WriteMessages(ctx, kafka.Message{Key: partitionKey(event), Value: value, Headers: eventHeaders(event)})
	if s.record(err) {
		s.logger.Info("kafka sink connection restored", zap.String("name", s.name))
	}
	if err == nil {
		return nil
	}

	class := classifyKafkaError(err)
	fields := []zap.Field{
		zap.Error(err),
		zap.String("error_type", class),
		zap.Duration("duration", time.Since(start)),
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	}
	if class == "network" || class == "dns" || class == "timeout" {
		s.logger.Warn("kafka sink temporarily unavailable", fields...)
	} else {
		s.logger.Error("failed to write audit event to kafka", fields...)
	}
	return fmt.Errorf("write to kafka (%s): %w", class, err)
}

// record updates the counters and reports whether a success ended a run of
// failures.
func (s *KafkaSink) record(err error) (restored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failed++
		s.disconnected = true
		return false
	}
	s.written++
	restored = s.disconnected
	s.disconnected = false
	return restored
}

func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing kafka audit sink",
		zap.String("name", s.name),
		zap.Int64("messages_written", s.written),
		zap.Int64("messages_failed", s.failed))
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string { return s.name }

// IsConnected reports whether the last write succeeded.
func (s *KafkaSink) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disconnected
}

func (s *KafkaSink) MessageStats() (written, failed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.failed
}

func buildTLSConfig(cfg *KafkaTLSConfig) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in via config
	}
	if len(cfg.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CACert) {
			return nil, errors.New("no certificates found in CA bundle")
		}
		out.RootCAs = pool
	}
	if len(cfg.ClientCert) > 0 && len(cfg.ClientKey) > 0 {
		pair, err := tls.X509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("client key pair: %w", err)
		}
		out.Certificates = []tls.Certificate{pair}
	}
	return out, nil
}

func buildSASLMechanism(cfg *KafkaSASLConfig) (sasl.Mechanism, error) {
	var algo scram.Algorithm
	switch cfg.Mechanism {
	case "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		algo = scram.SHA256
	case "SCRAM-SHA-512":
		algo = scram.SHA512
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.Mechanism)
	}
	m, err := scram.Mechanism(algo, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Mechanism, err)
	}
	return m, nil
}
