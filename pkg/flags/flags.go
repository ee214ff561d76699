// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/audit"
	"github.com/telekom/tenant-control-plane/pkg/cache"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/metrics"
	"github.com/telekom/tenant-control-plane/pkg/storage"
	"github.com/telekom/tenant-control-plane/pkg/telemetry"
)

const cacheKey = "system"

// Backend is the part of the storage collaborator the flag store uses.
type Backend interface {
	ListSystemFlags(ctx context.Context) ([]control.SystemFlag, error)
	PutSystemFlag(ctx context.Context, flag control.SystemFlag, entry control.AuditEntry) (storage.Commit, error)
}

// Store is the System Flag Store.
type Store struct {
	backend Backend
	audit   *audit.Log
	authz   control.Authorizer
	cache   *cache.Cache[map[control.Key]bool]
	log     *zap.SugaredLogger
}

// New creates a Store. A nil authorizer falls back to control.SuperadminOnly.
func New(backend Backend, auditLog *audit.Log, authz control.Authorizer, c *cache.Cache[map[control.Key]bool], log *zap.SugaredLogger) *Store {
	if authz == nil {
		authz = control.SuperadminOnly
	}
	if c == nil {
		c = cache.New[map[control.Key]bool]("system_flags", 0, nil)
	}
	return &Store{
		backend: backend,
		audit:   auditLog,
		authz:   authz,
		cache:   c,
		log:     log.Named("flags"),
	}
}

// Defaults returns every system key mapped to its compiled-in default.
func Defaults() map[control.Key]bool {
	out := make(map[control.Key]bool, len(control.SystemKeys()))
	for _, k := range control.SystemKeys() {
		out[k] = k.Default()
	}
	return out
}

// GetAll returns every system key with its stored value or default. It never
// fails: a storage error is logged and answered with the defaults.
func (s *Store) GetAll(ctx context.Context) map[control.Key]bool {
	values, err := s.cache.Get(ctx, cacheKey, s.load)
	if err != nil {
		metrics.ReadsDegraded.WithLabelValues("system_flags").Inc()
		s.log.Warnw("Reading system flags failed, serving defaults", "error", err)
		return Defaults()
	}
	// callers own the returned map
	out := make(map[control.Key]bool, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// Get returns the effective value of one system flag.
func (s *Store) Get(ctx context.Context, key control.Key) bool {
	return s.GetAll(ctx)[key]
}

func (s *Store) load(ctx context.Context) (map[control.Key]bool, error) {
	rows, err := s.backend.ListSystemFlags(ctx)
	if err != nil {
		return nil, err
	}
	values := Defaults()
	for _, f := range rows {
		if f.Key.IsSystemFlag() {
			values[f.Key] = f.Value
		}
	}
	return values, nil
}

// List returns one entry per system key. Keys that were never stored carry
// their default value and a zero UpdatedAt.
func (s *Store) List(ctx context.Context) ([]control.SystemFlag, error) {
	rows, err := s.backend.ListSystemFlags(ctx)
	if err != nil {
		return nil, err
	}
	stored := make(map[control.Key]control.SystemFlag, len(rows))
	for _, f := range rows {
		stored[f.Key] = f
	}
	out := make([]control.SystemFlag, 0, len(control.SystemKeys()))
	for _, k := range control.SystemKeys() {
		if f, ok := stored[k]; ok {
			out = append(out, f)
			continue
		}
		out = append(out, control.SystemFlag{Key: k, Value: k.Default()})
	}
	return out, nil
}

// Toggle sets a system flag. Setting a flag to its current value is allowed
// and still audited.
func (s *Store) Toggle(ctx context.Context, actor control.Actor, key string, value bool) (control.SystemFlag, error) {
	ctx, span := telemetry.StartSpan(ctx, "flags.Toggle",
		attribute.String("flag.key", key), attribute.Bool("flag.value", value))
	flag, err := s.toggle(ctx, actor, key, value)
	telemetry.EndSpan(span, err)
	return flag, err
}

func (s *Store) toggle(ctx context.Context, actor control.Actor, key string, value bool) (control.SystemFlag, error) {
	if err := s.authz.Authorize(actor, control.ObjectSystemFlags, control.PermWrite); err != nil {
		metrics.SystemFlagToggles.WithLabelValues(metricKey(key), metrics.OutcomeUnauthorized).Inc()
		s.log.Warnw("System flag toggle denied", "actor", actor.ID, "key", key)
		return control.SystemFlag{}, err
	}
	k, err := control.ParseSystemKey(key)
	if err != nil {
		metrics.SystemFlagToggles.WithLabelValues(metricKey(key), metrics.OutcomeInvalid).Inc()
		return control.SystemFlag{}, err
	}

	entry := s.audit.Prepare(actor, control.ActionToggle, control.TargetSystemFlag, string(k), "", value, "")
	flag := control.SystemFlag{
		Key:       k,
		Value:     value,
		UpdatedBy: actor.ID,
	}

	commit, err := s.backend.PutSystemFlag(ctx, flag, entry)
	if err != nil {
		metrics.SystemFlagToggles.WithLabelValues(string(k), metrics.OutcomeError).Inc()
		s.log.Errorw("Writing system flag failed", "key", k, "value", value, "actor", actor.ID, "error", err)
		if !errors.Is(err, control.ErrStorage) {
			err = control.StorageError("put system flag", err)
		}
		return control.SystemFlag{}, err
	}
	flag.UpdatedAt = commit.At
	s.cache.Invalidate(cacheKey)
	s.audit.Committed(ctx, commit)

	metrics.SystemFlagToggles.WithLabelValues(string(k), metrics.OutcomeSuccess).Inc()
	s.log.Infow("System flag toggled",
		"key", k,
		"value", value,
		"previous", formatPrevious(commit.Previous),
		"actor", actor.ID)
	return flag, nil
}

// metricKey keeps label cardinality bounded for rejected keys.
func metricKey(key string) string {
	if control.Key(key).Known() {
		return key
	}
	return "unknown"
}

func formatPrevious(p *bool) string {
	if p == nil {
		return "unset"
	}
	if *p {
		return "true"
	}
	return "false"
}
