// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package resolver merges system flags, tenant overrides and failure records
// into the effective state other parts of the product consume. It never
// writes.
package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/metrics"
)

// SyntheticIncidentID is the id of the record injected while incident mode is on.
const SyntheticIncidentID = "system-incident"

// IncidentMessage is the message of the synthetic incident record.
const IncidentMessage = "A platform-wide incident is in progress. Some features may be degraded."

// SystemFlags is the read side of the System Flag Store.
type SystemFlags interface {
	GetAll(ctx context.Context) map[control.Key]bool
	// List returns one entry per system key; keys never written have a zero UpdatedAt.
	List(ctx context.Context) ([]control.SystemFlag, error)
}

// TenantControls is the read side of the Tenant Control Store.
type TenantControls interface {
	Get(ctx context.Context, tenantID string) map[control.Key]bool
}

// Failures is the read side of the Failure Registry.
type Failures interface {
	ListActive(ctx context.Context, tenantID string) []control.FailureRecord
	Counts(ctx context.Context) (map[control.Severity]int, error)
}

// Source tells where an effective value came from.
type Source string

const (
	SourceTenant  Source = "tenant"
	SourceSystem  Source = "system"
	SourceDefault Source = "default"
)

// EffectiveControl is one key's resolved value for a tenant.
type EffectiveControl struct {
	Key        control.Key `json:"key"`
	Value      bool        `json:"value"`
	Source     Source      `json:"source"`
	TenantOnly bool        `json:"tenantOnly"`
}

// HealthSnapshot is the platform-wide view served to operators.
type HealthSnapshot struct {
	Flags         map[control.Key]bool     `json:"flags"`
	FailureCounts map[control.Severity]int `json:"failureCounts"`
	IncidentMode  bool                     `json:"incidentMode"`
	GeneratedAt   time.Time                `json:"generatedAt"`
}

// Resolver is the Effective-State Resolver.
type Resolver struct {
	flags    SystemFlags
	controls TenantControls
	failures Failures
	clock    clock.PassiveClock
	log      *zap.SugaredLogger
}

// New creates a Resolver. A nil clock means the real clock.
func New(flags SystemFlags, controls TenantControls, failures Failures, clk clock.PassiveClock, log *zap.SugaredLogger) *Resolver {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Resolver{
		flags:    flags,
		controls: controls,
		failures: failures,
		clock:    clk,
		log:      log.Named("resolver"),
	}
}

// GetFeatureState returns the tenant override if one exists, else the system
// flag, else the compiled-in default. Unknown keys resolve to false.
func (r *Resolver) GetFeatureState(ctx context.Context, tenantID, key string) bool {
	k := control.Key(key)
	if !k.Known() {
		return false
	}
	v, _ := r.resolve(k, r.controls.Get(ctx, tenantID), r.systemFlagsFor(ctx, k))
	return v
}

// systemFlagsFor skips the system flag read for tenant-only keys.
func (r *Resolver) systemFlagsFor(ctx context.Context, k control.Key) map[control.Key]bool {
	if !k.IsSystemFlag() {
		return nil
	}
	return r.flags.GetAll(ctx)
}

func (r *Resolver) resolve(k control.Key, overrides, system map[control.Key]bool) (bool, Source) {
	if v, ok := overrides[k]; ok {
		return v, SourceTenant
	}
	if k.IsSystemFlag() {
		if v, ok := system[k]; ok {
			return v, SourceSystem
		}
	}
	return k.Default(), SourceDefault
}

// EffectiveControls resolves every known key for tenantID and reports which
// layer each value came from. A system key that was never written reports the
// default layer.
func (r *Resolver) EffectiveControls(ctx context.Context, tenantID string) []EffectiveControl {
	overrides := r.controls.Get(ctx, tenantID)
	system := r.storedSystemFlags(ctx)
	keys := control.AllKeys()
	out := make([]EffectiveControl, 0, len(keys))
	for _, k := range keys {
		v, src := r.resolve(k, overrides, system)
		out = append(out, EffectiveControl{Key: k, Value: v, Source: src, TenantOnly: k.TenantOnly()})
	}
	return out
}

// storedSystemFlags returns only the system flags that have been written. A
// storage error yields none, so every system key falls back to its default.
func (r *Resolver) storedSystemFlags(ctx context.Context) map[control.Key]bool {
	rows, err := r.flags.List(ctx)
	if err != nil {
		metrics.ReadsDegraded.WithLabelValues("effective_controls").Inc()
		r.log.Warnw("Listing system flags failed, reporting defaults", "error", err)
		return nil
	}
	stored := make(map[control.Key]bool, len(rows))
	for _, f := range rows {
		if !f.UpdatedAt.IsZero() {
			stored[f.Key] = f.Value
		}
	}
	return stored
}

// GetFailureView returns the active failures of tenantID. While incident mode
// is on, a synthetic critical record is prepended. It is never stored.
func (r *Resolver) GetFailureView(ctx context.Context, tenantID string) []control.FailureRecord {
	active := r.failures.ListActive(ctx, tenantID)
	if !r.flags.GetAll(ctx)[control.KeyIncidentModeEnabled] {
		return active
	}
	out := make([]control.FailureRecord, 0, len(active)+1)
	out = append(out, r.syntheticIncident(tenantID))
	return append(out, active...)
}

func (r *Resolver) syntheticIncident(tenantID string) control.FailureRecord {
	now := r.clock.Now().UTC()
	return control.FailureRecord{
		ID:          SyntheticIncidentID,
		TenantID:    tenantID,
		Category:    control.CategorySystem,
		Source:      "system",
		Severity:    control.SeverityCritical,
		Message:     IncidentMessage,
		IsActive:    true,
		CreatedAt:   now,
		LastSeenAt:  now,
		Occurrences: 1,
	}
}

// GetHealthSnapshot returns all system flags and active failure counts per
// severity. A storage error on the counts degrades to zero counts.
func (r *Resolver) GetHealthSnapshot(ctx context.Context) HealthSnapshot {
	flags := r.flags.GetAll(ctx)
	counts, err := r.failures.Counts(ctx)
	if err != nil {
		metrics.ReadsDegraded.WithLabelValues("health_snapshot").Inc()
		r.log.Warnw("Counting active failures failed, reporting zero", "error", err)
	}
	full := make(map[control.Severity]int, len(control.Severities()))
	for _, sev := range control.Severities() {
		full[sev] = counts[sev]
		if err == nil {
			metrics.ActiveFailures.WithLabelValues(string(sev)).Set(float64(full[sev]))
		}
	}
	return HealthSnapshot{
		Flags:         flags,
		FailureCounts: full,
		IncidentMode:  flags[control.KeyIncidentModeEnabled],
		GeneratedAt:   r.clock.Now().UTC(),
	}
}
