// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package failures is the failure registry. Subsystems report failures per
// tenant; repeated reports of the same tenant, category and source merge into
// one active record until a superadmin resolves it. Records are never deleted.
package failures

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/telekom/tenant-control-plane/pkg/audit"
	"github.com/telekom/tenant-control-plane/pkg/cache"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/metrics"
	"github.com/telekom/tenant-control-plane/pkg/storage"
	"github.com/telekom/tenant-control-plane/pkg/telemetry"
)

const (
	maxSourceLen   = 200
	maxMessageLen  = 4000
	maxMetadataLen = 50

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Backend is the part of the storage collaborator the registry uses.
type Backend interface {
	UpsertFailure(ctx context.Context, rec control.FailureRecord) (storage.UpsertResult, error)
	GetFailure(ctx context.Context, id string) (control.FailureRecord, error)
	ResolveFailure(ctx context.Context, res storage.Resolution, entry control.AuditEntry) (control.FailureRecord, storage.Commit, error)
	ListFailures(ctx context.Context, q storage.FailureQuery) ([]control.FailureRecord, error)
	CountActiveFailures(ctx context.Context) (map[control.Severity]int, error)
}

// Notifier is told about records that are new and critical, or that were just
// escalated to critical.
type Notifier interface {
	NotifyCritical(ctx context.Context, rec control.FailureRecord, escalated bool)
}

// Report is a failure observation from a subsystem.
type Report struct {
	TenantID string            `json:"tenantId"`
	Category control.Category  `json:"category"`
	Source   string            `json:"source"`
	Severity control.Severity  `json:"severity"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Registry is the Failure Registry.
type Registry struct {
	backend  Backend
	audit    *audit.Log
	authz    control.Authorizer
	cache    *cache.Cache[[]control.FailureRecord]
	notifier Notifier
	log      *zap.SugaredLogger
}

// Option configures a Registry.
type Option func(*Registry)

// WithNotifier sets the critical failure notifier.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithAuthorizer replaces control.SuperadminOnly.
func WithAuthorizer(a control.Authorizer) Option {
	return func(r *Registry) { r.authz = a }
}

// WithCache sets the per-tenant active list cache.
func WithCache(c *cache.Cache[[]control.FailureRecord]) Option {
	return func(r *Registry) { r.cache = c }
}

// New creates a Registry.
func New(backend Backend, auditLog *audit.Log, log *zap.SugaredLogger, opts ...Option) *Registry {
	r := &Registry{
		backend: backend,
		audit:   auditLog,
		authz:   control.SuperadminOnly,
		log:     log.Named("failures"),
	}
	for _, o := range opts {
		o(r)
	}
	if r.cache == nil {
		r.cache = cache.New[[]control.FailureRecord]("failures", 0, nil)
	}
	return r
}

func (r Report) validate() (Report, error) {
	var problems []string
	r.TenantID = strings.TrimSpace(r.TenantID)
	r.Source = strings.TrimSpace(r.Source)
	if r.TenantID == "" {
		problems = append(problems, "tenantId is required")
	}
	if r.Source == "" {
		problems = append(problems, "source is required")
	} else if len(r.Source) > maxSourceLen {
		problems = append(problems, fmt.Sprintf("source exceeds %d characters", maxSourceLen))
	}
	if _, err := control.ParseCategory(string(r.Category)); err != nil {
		problems = append(problems, fmt.Sprintf("invalid category %q", r.Category))
	}
	if _, err := control.ParseSeverity(string(r.Severity)); err != nil {
		problems = append(problems, fmt.Sprintf("invalid severity %q", r.Severity))
	}
	if len(r.Message) > maxMessageLen {
		problems = append(problems, fmt.Sprintf("message exceeds %d characters", maxMessageLen))
	}
	if len(r.Metadata) > maxMetadataLen {
		problems = append(problems, fmt.Sprintf("more than %d metadata entries", maxMetadataLen))
	}
	if len(problems) > 0 {
		return r, control.Validationf("%s", strings.Join(problems, "; "))
	}
	return r, nil
}

// Report records a failure. If an active record exists for the same tenant,
// category and source it is refreshed in place: message, metadata and
// severity are replaced, LastSeenAt moves forward and Occurrences grows, while
// ID and CreatedAt stay those of the first report.
func (g *Registry) Report(ctx context.Context, rep Report) (control.FailureRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "failures.Report",
		attribute.String("tenant.id", rep.TenantID),
		attribute.String("failure.category", string(rep.Category)),
		attribute.String("failure.source", rep.Source))
	rec, err := g.report(ctx, rep)
	telemetry.EndSpan(span, err)
	return rec, err
}

func (g *Registry) report(ctx context.Context, rep Report) (control.FailureRecord, error) {
	rep, err := rep.validate()
	if err != nil {
		metrics.FailuresReported.WithLabelValues(labelCategory(rep.Category), labelSeverity(rep.Severity), "invalid").Inc()
		return control.FailureRecord{}, err
	}

	now := g.audit.Now()
	rec := control.FailureRecord{
		ID:          uuid.NewString(),
		TenantID:    rep.TenantID,
		Category:    rep.Category,
		Source:      rep.Source,
		Severity:    rep.Severity,
		Message:     rep.Message,
		IsActive:    true,
		Metadata:    rep.Metadata,
		CreatedAt:   now,
		LastSeenAt:  now,
		Occurrences: 1,
	}

	res, err := g.backend.UpsertFailure(ctx, rec)
	if err != nil {
		metrics.FailuresReported.WithLabelValues(string(rep.Category), string(rep.Severity), "error").Inc()
		g.log.Errorw("Storing failure record failed",
			"tenant", rep.TenantID, "category", rep.Category, "source", rep.Source, "error", err)
		return control.FailureRecord{}, asStorageError("upsert failure", err)
	}
	g.cache.Invalidate(rep.TenantID)

	stored := res.Record
	escalated := !res.Created && stored.Severity.Rank() > res.PreviousSeverity.Rank()
	result := "merged"
	eventType := audit.EventFailureReported
	switch {
	case res.Created:
		result = "created"
	case escalated:
		result = "escalated"
		eventType = audit.EventFailureEscalated
	}
	metrics.FailuresReported.WithLabelValues(string(stored.Category), string(stored.Severity), result).Inc()
	g.audit.EmitFailure(ctx, eventType, stored)

	g.log.Infow("Failure reported",
		"id", stored.ID,
		"tenant", stored.TenantID,
		"category", stored.Category,
		"source", stored.Source,
		"severity", stored.Severity,
		"occurrences", stored.Occurrences,
		"result", result)

	if g.notifier != nil && stored.Severity == control.SeverityCritical && (res.Created || escalated) {
		g.notifier.NotifyCritical(ctx, stored, escalated)
	}
	return stored, nil
}

// Resolve marks an active record resolved. It returns control.ErrNotFound,
// and changes nothing, when id is unknown or already resolved.
func (g *Registry) Resolve(ctx context.Context, actor control.Actor, id string) (control.FailureRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "failures.Resolve", attribute.String("failure.id", id))
	rec, err := g.resolve(ctx, actor, id)
	telemetry.EndSpan(span, err)
	return rec, err
}

func (g *Registry) resolve(ctx context.Context, actor control.Actor, id string) (control.FailureRecord, error) {
	if err := g.authz.Authorize(actor, control.ObjectFailures, control.PermResolve); err != nil {
		g.log.Warnw("Failure resolve denied", "actor", actor.ID, "id", id)
		return control.FailureRecord{}, err
	}
	if strings.TrimSpace(id) == "" {
		return control.FailureRecord{}, control.Validationf("failure id is required")
	}

	entry := g.audit.Prepare(actor, control.ActionResolve, control.TargetFailureRecord, id, "", false, "")
	res := storage.Resolution{ID: id, ResolvedBy: actor.ID}
	rec, commit, err := g.backend.ResolveFailure(ctx, res, entry)
	if err != nil {
		if errors.Is(err, control.ErrNotFound) {
			return control.FailureRecord{}, err
		}
		g.log.Errorw("Resolving failure record failed", "id", id, "actor", actor.ID, "error", err)
		return control.FailureRecord{}, asStorageError("resolve failure", err)
	}
	g.cache.Invalidate(rec.TenantID)
	g.audit.Committed(ctx, commit)

	metrics.FailuresResolved.WithLabelValues(string(rec.Category)).Inc()
	g.log.Infow("Failure resolved",
		"id", rec.ID,
		"tenant", rec.TenantID,
		"category", rec.Category,
		"source", rec.Source,
		"actor", actor.ID)
	return rec, nil
}

// ListActive returns the active records of tenantID, most severe first, then
// newest first, then by ID. Storage errors yield an empty list.
func (g *Registry) ListActive(ctx context.Context, tenantID string) []control.FailureRecord {
	recs, err := g.cache.Get(ctx, tenantID, func(ctx context.Context) ([]control.FailureRecord, error) {
		recs, err := g.backend.ListFailures(ctx, storage.FailureQuery{TenantID: tenantID, ActiveOnly: true})
		if err != nil {
			return nil, err
		}
		SortBySeverity(recs)
		return recs, nil
	})
	if err != nil {
		metrics.ReadsDegraded.WithLabelValues("failures").Inc()
		g.log.Warnw("Listing active failures failed, returning none", "tenant", tenantID, "error", err)
		return []control.FailureRecord{}
	}
	out := make([]control.FailureRecord, len(recs))
	for i, rec := range recs {
		out[i] = rec.Clone()
	}
	return out
}

// Get returns one record, active or resolved.
func (g *Registry) Get(ctx context.Context, id string) (control.FailureRecord, error) {
	return g.backend.GetFailure(ctx, id)
}

// History returns active and resolved records of tenantID, newest first.
func (g *Registry) History(ctx context.Context, tenantID string, limit int) ([]control.FailureRecord, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, control.Validationf("tenant is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return g.backend.ListFailures(ctx, storage.FailureQuery{TenantID: tenantID, Limit: limit})
}

// Counts returns the number of active records per severity across all
// tenants. Every severity is present in the result.
func (g *Registry) Counts(ctx context.Context) (map[control.Severity]int, error) {
	counts, err := g.backend.CountActiveFailures(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[control.Severity]int, len(control.Severities()))
	for _, sev := range control.Severities() {
		out[sev] = counts[sev]
	}
	return out, nil
}

// SortBySeverity orders records by severity rank desc, CreatedAt desc, ID asc.
func SortBySeverity(recs []control.FailureRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func labelCategory(c control.Category) string {
	if _, err := control.ParseCategory(string(c)); err != nil {
		return "invalid"
	}
	return string(c)
}

func labelSeverity(s control.Severity) string {
	if _, err := control.ParseSeverity(string(s)); err != nil {
		return "invalid"
	}
	return string(s)
}

func asStorageError(op string, err error) error {
	if errors.Is(err, control.ErrStorage) {
		return err
	}
	return control.StorageError(op, err)
}
