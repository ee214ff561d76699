// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithAuditAppendHook runs fn before every audit append. A non-nil error makes
// the append fail the way a broken audit table would.
func WithAuditAppendHook(fn func(control.AuditEntry) error) MemoryOption {
	return func(m *Memory) { m.auditHook = fn }
}

// WithClock sets the clock commits are stamped with.
func WithClock(clk clock.PassiveClock) MemoryOption {
	return func(m *Memory) { m.clock = clk }
}

// Memory is an in-process Store. Each table has its own lock; the audit log
// lock is only ever taken while holding a table lock.
type Memory struct {
	flagsMu sync.Mutex
	flags   map[control.Key]control.SystemFlag

	controlsMu sync.Mutex
	controls   map[string]map[control.Key]control.TenantControl

	failuresMu     sync.Mutex
	failures       map[string]control.FailureRecord
	activeByTriple map[string]string

	auditMu   sync.Mutex
	audit     []control.AuditEntry
	seq       int64
	lastAt    time.Time
	auditHook func(control.AuditEntry) error
	clock     clock.PassiveClock
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		flags:          map[control.Key]control.SystemFlag{},
		controls:       map[string]map[control.Key]control.TenantControl{},
		failures:       map[string]control.FailureRecord{},
		activeByTriple: map[string]string{},
		clock:          clock.RealClock{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// commit stamps entry and appends it. Seq and Timestamp are assigned under
// the same lock, so they never disagree. The stamp is returned even when the
// append fails.
func (m *Memory) commit(entry control.AuditEntry, prev *bool) Commit {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()

	now := m.clock.Now().UTC()
	if now.Before(m.lastAt) {
		now = m.lastAt
	}
	m.lastAt = now

	entry.PreviousValue = prev
	entry.Timestamp = now
	c := Commit{Previous: prev, At: now, Audit: entry}
	if m.auditHook != nil {
		if err := m.auditHook(entry); err != nil {
			c.AuditErr = err
			return c
		}
	}
	m.seq++
	c.Audit.Seq = m.seq
	m.audit = append(m.audit, c.Audit)
	return c
}

func (m *Memory) ListSystemFlags(_ context.Context) ([]control.SystemFlag, error) {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()

	out := make([]control.SystemFlag, 0, len(m.flags))
	for _, f := range m.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) PutSystemFlag(_ context.Context, flag control.SystemFlag, entry control.AuditEntry) (Commit, error) {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()

	prev := control.BoolPtr(flag.Key.Default())
	if old, ok := m.flags[flag.Key]; ok {
		prev = control.BoolPtr(old.Value)
	}
	c := m.commit(entry, prev)
	flag.UpdatedAt = c.At
	m.flags[flag.Key] = flag
	return c, nil
}

func (m *Memory) ListTenantControls(_ context.Context, tenantID string) ([]control.TenantControl, error) {
	m.controlsMu.Lock()
	defer m.controlsMu.Unlock()

	byKey := m.controls[tenantID]
	out := make([]control.TenantControl, 0, len(byKey))
	for _, tc := range byKey {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) PutTenantControl(_ context.Context, tc control.TenantControl, entry control.AuditEntry) (Commit, error) {
	m.controlsMu.Lock()
	defer m.controlsMu.Unlock()

	byKey, ok := m.controls[tc.TenantID]
	if !ok {
		byKey = map[control.Key]control.TenantControl{}
		m.controls[tc.TenantID] = byKey
	}
	prev := control.BoolPtr(tc.Key.Default())
	if old, ok := byKey[tc.Key]; ok {
		prev = control.BoolPtr(old.Value)
	}
	c := m.commit(entry, prev)
	tc.UpdatedAt = c.At
	byKey[tc.Key] = tc
	return c, nil
}

func (m *Memory) DeleteTenantControl(_ context.Context, tenantID string, key control.Key, entry control.AuditEntry) (Commit, error) {
	m.controlsMu.Lock()
	defer m.controlsMu.Unlock()

	old, ok := m.controls[tenantID][key]
	if !ok {
		return Commit{}, fmt.Errorf("%w: no override for %s on tenant %s", control.ErrNotFound, key, tenantID)
	}
	delete(m.controls[tenantID], key)
	return m.commit(entry, control.BoolPtr(old.Value)), nil
}

func (m *Memory) UpsertFailure(_ context.Context, rec control.FailureRecord) (UpsertResult, error) {
	m.failuresMu.Lock()
	defer m.failuresMu.Unlock()

	triple := rec.DedupKey()
	if id, ok := m.activeByTriple[triple]; ok {
		existing := m.failures[id]
		prevSeverity := existing.Severity
		existing.Severity = rec.Severity
		existing.Message = rec.Message
		existing.Metadata = rec.Clone().Metadata
		existing.LastSeenAt = rec.LastSeenAt
		existing.Occurrences++
		m.failures[id] = existing
		return UpsertResult{Record: existing.Clone(), PreviousSeverity: prevSeverity}, nil
	}

	rec = rec.Clone()
	rec.IsActive = true
	if rec.Occurrences == 0 {
		rec.Occurrences = 1
	}
	m.failures[rec.ID] = rec
	m.activeByTriple[triple] = rec.ID
	return UpsertResult{Record: rec.Clone(), Created: true}, nil
}

func (m *Memory) GetFailure(_ context.Context, id string) (control.FailureRecord, error) {
	m.failuresMu.Lock()
	defer m.failuresMu.Unlock()

	rec, ok := m.failures[id]
	if !ok {
		return control.FailureRecord{}, fmt.Errorf("%w: failure %s", control.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (m *Memory) ResolveFailure(_ context.Context, res Resolution, entry control.AuditEntry) (control.FailureRecord, Commit, error) {
	m.failuresMu.Lock()
	defer m.failuresMu.Unlock()

	rec, ok := m.failures[res.ID]
	if !ok || !rec.IsActive {
		return control.FailureRecord{}, Commit{}, fmt.Errorf("%w: active failure %s", control.ErrNotFound, res.ID)
	}
	entry.TenantID = rec.TenantID
	c := m.commit(entry, control.BoolPtr(true))

	at := c.At
	rec.IsActive = false
	rec.ResolvedAt = &at
	rec.ResolvedBy = res.ResolvedBy
	m.failures[rec.ID] = rec
	delete(m.activeByTriple, rec.DedupKey())
	return rec.Clone(), c, nil
}

func (m *Memory) ListFailures(_ context.Context, q FailureQuery) ([]control.FailureRecord, error) {
	m.failuresMu.Lock()
	defer m.failuresMu.Unlock()

	out := make([]control.FailureRecord, 0)
	for _, rec := range m.failures {
		if q.TenantID != "" && rec.TenantID != q.TenantID {
			continue
		}
		if q.ActiveOnly && !rec.IsActive {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) CountActiveFailures(_ context.Context) (map[control.Severity]int, error) {
	m.failuresMu.Lock()
	defer m.failuresMu.Unlock()

	counts := map[control.Severity]int{}
	for _, id := range m.activeByTriple {
		counts[m.failures[id].Severity]++
	}
	return counts, nil
}

// ListAudit returns matching entries newest first.
func (m *Memory) ListAudit(_ context.Context, f control.AuditFilter) ([]control.AuditEntry, error) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()

	out := make([]control.AuditEntry, 0)
	for i := len(m.audit) - 1; i >= 0; i-- {
		if !f.Matches(m.audit[i]) {
			continue
		}
		out = append(out, m.audit[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}
