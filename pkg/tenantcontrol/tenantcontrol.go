// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package tenantcontrol holds per-tenant overrides of control keys.
//
// An override replaces the system flag (or compiled-in default) for one
// tenant. Only the latest value per tenant and key is kept; history lives in
// the audit log.
package tenantcontrol

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/audit"
	"github.com/telekom/tenant-control-plane/pkg/cache"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/metrics"
	"github.com/telekom/tenant-control-plane/pkg/storage"
	"github.com/telekom/tenant-control-plane/pkg/telemetry"
	"github.com/telekom/tenant-control-plane/pkg/tenants"
)

// Backend is the part of the storage collaborator the store uses.
type Backend interface {
	ListTenantControls(ctx context.Context, tenantID string) ([]control.TenantControl, error)
	PutTenantControl(ctx context.Context, tc control.TenantControl, entry control.AuditEntry) (storage.Commit, error)
	DeleteTenantControl(ctx context.Context, tenantID string, key control.Key, entry control.AuditEntry) (storage.Commit, error)
}

// Store is the Tenant Control Store.
type Store struct {
	backend   Backend
	directory tenants.Directory
	audit     *audit.Log
	authz     control.Authorizer
	cache     *cache.Cache[map[control.Key]bool]
	log       *zap.SugaredLogger
}

// New creates a Store. A nil authorizer falls back to control.SuperadminOnly.
func New(backend Backend, directory tenants.Directory, auditLog *audit.Log, authz control.Authorizer, c *cache.Cache[map[control.Key]bool], log *zap.SugaredLogger) *Store {
	if authz == nil {
		authz = control.SuperadminOnly
	}
	if c == nil {
		c = cache.New[map[control.Key]bool]("tenant_controls", 0, nil)
	}
	return &Store{
		backend:   backend,
		directory: directory,
		audit:     auditLog,
		authz:     authz,
		cache:     c,
		log:       log.Named("tenantcontrol"),
	}
}

// Get returns the overrides stored for tenantID. Keys without an override are
// absent from the map. Storage errors are logged and yield an empty map.
func (s *Store) Get(ctx context.Context, tenantID string) map[control.Key]bool {
	values, err := s.cache.Get(ctx, tenantID, func(ctx context.Context) (map[control.Key]bool, error) {
		rows, err := s.backend.ListTenantControls(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		m := make(map[control.Key]bool, len(rows))
		for _, tc := range rows {
			if tc.Key.Known() {
				m[tc.Key] = tc.Value
			}
		}
		return m, nil
	})
	if err != nil {
		metrics.ReadsDegraded.WithLabelValues("tenant_controls").Inc()
		s.log.Warnw("Reading tenant controls failed, ignoring overrides", "tenant", tenantID, "error", err)
		return map[control.Key]bool{}
	}
	out := make(map[control.Key]bool, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// List returns the stored overrides of tenantID with their metadata.
func (s *Store) List(ctx context.Context, tenantID string) ([]control.TenantControl, error) {
	rows, err := s.backend.ListTenantControls(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].TenantOnly = rows[i].Key.TenantOnly()
	}
	return rows, nil
}

// Toggle stores an override. Checks run in order: authorization, reason, key,
// tenant existence. Nothing is written when any of them fails.
func (s *Store) Toggle(ctx context.Context, actor control.Actor, tenantID, key string, value bool, reason string) (control.TenantControl, error) {
	ctx, span := telemetry.StartSpan(ctx, "tenantcontrol.Toggle",
		attribute.String("tenant.id", tenantID), attribute.String("control.key", key), attribute.Bool("control.value", value))
	tc, err := s.toggle(ctx, actor, tenantID, key, value, reason)
	telemetry.EndSpan(span, err)
	return tc, err
}

func (s *Store) toggle(ctx context.Context, actor control.Actor, tenantID, key string, value bool, reason string) (control.TenantControl, error) {
	k, reason, err := s.check(ctx, actor, tenantID, key, reason)
	if err != nil {
		return control.TenantControl{}, err
	}

	entry := s.audit.Prepare(actor, control.ActionToggle, control.TargetTenantControl, string(k), tenantID, value, reason)
	tc := control.TenantControl{
		TenantID:   tenantID,
		Key:        k,
		Value:      value,
		Reason:     reason,
		UpdatedBy:  actor.ID,
		TenantOnly: k.TenantOnly(),
	}

	commit, err := s.backend.PutTenantControl(ctx, tc, entry)
	if err != nil {
		metrics.TenantControlToggles.WithLabelValues(string(k), metrics.OutcomeError).Inc()
		s.log.Errorw("Writing tenant control failed", "tenant", tenantID, "key", k, "actor", actor.ID, "error", err)
		return control.TenantControl{}, asStorageError("put tenant control", err)
	}
	tc.UpdatedAt = commit.At
	s.cache.Invalidate(tenantID)
	s.audit.Committed(ctx, commit)

	metrics.TenantControlToggles.WithLabelValues(string(k), metrics.OutcomeSuccess).Inc()
	s.log.Infow("Tenant control toggled",
		"tenant", tenantID,
		"key", k,
		"value", value,
		"tenantOnly", tc.TenantOnly,
		"actor", actor.ID,
		"reason", reason)
	return tc, nil
}

// Clear removes an override so the tenant falls back to the system flag or
// default. It returns control.ErrNotFound when no override exists.
func (s *Store) Clear(ctx context.Context, actor control.Actor, tenantID, key, reason string) error {
	ctx, span := telemetry.StartSpan(ctx, "tenantcontrol.Clear",
		attribute.String("tenant.id", tenantID), attribute.String("control.key", key))
	err := s.clear(ctx, actor, tenantID, key, reason)
	telemetry.EndSpan(span, err)
	return err
}

func (s *Store) clear(ctx context.Context, actor control.Actor, tenantID, key, reason string) error {
	k, reason, err := s.check(ctx, actor, tenantID, key, reason)
	if err != nil {
		return err
	}

	entry := s.audit.Prepare(actor, control.ActionClear, control.TargetTenantControl, string(k), tenantID, false, reason)
	commit, err := s.backend.DeleteTenantControl(ctx, tenantID, k, entry)
	if err != nil {
		if errors.Is(err, control.ErrNotFound) {
			metrics.TenantControlToggles.WithLabelValues(string(k), metrics.OutcomeNotFound).Inc()
			return err
		}
		metrics.TenantControlToggles.WithLabelValues(string(k), metrics.OutcomeError).Inc()
		s.log.Errorw("Clearing tenant control failed", "tenant", tenantID, "key", k, "actor", actor.ID, "error", err)
		return asStorageError("delete tenant control", err)
	}
	s.cache.Invalidate(tenantID)
	s.audit.Committed(ctx, commit)

	metrics.TenantControlToggles.WithLabelValues(string(k), metrics.OutcomeSuccess).Inc()
	s.log.Infow("Tenant control cleared", "tenant", tenantID, "key", k, "actor", actor.ID, "reason", reason)
	return nil
}

// check validates a mutation and returns the parsed key and trimmed reason.
func (s *Store) check(ctx context.Context, actor control.Actor, tenantID, key, reason string) (control.Key, string, error) {
	label := key
	if !control.Key(key).Known() {
		label = "unknown"
	}
	if err := s.authz.Authorize(actor, control.ObjectTenantControls, control.PermWrite); err != nil {
		metrics.TenantControlToggles.WithLabelValues(label, metrics.OutcomeUnauthorized).Inc()
		s.log.Warnw("Tenant control change denied", "actor", actor.ID, "tenant", tenantID, "key", key)
		return "", "", err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		metrics.TenantControlToggles.WithLabelValues(label, metrics.OutcomeInvalid).Inc()
		return "", "", control.Validationf("reason is required")
	}
	k, err := control.ParseKey(key)
	if err != nil {
		metrics.TenantControlToggles.WithLabelValues(label, metrics.OutcomeInvalid).Inc()
		return "", "", err
	}
	ok, err := s.directory.Exists(ctx, tenantID)
	if err != nil {
		metrics.TenantControlToggles.WithLabelValues(label, metrics.OutcomeError).Inc()
		return "", "", asStorageError("lookup tenant", err)
	}
	if !ok {
		metrics.TenantControlToggles.WithLabelValues(label, metrics.OutcomeNotFound).Inc()
		return "", "", fmt.Errorf("%w: %s", control.ErrTenantNotFound, tenantID)
	}
	return k, reason, nil
}

func asStorageError(op string, err error) error {
	if errors.Is(err, control.ErrStorage) {
		return err
	}
	return control.StorageError(op, err)
}
