// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/metrics"
	"github.com/telekom/tenant-control-plane/pkg/storage"
)

// Reader lists persisted audit entries.
type Reader interface {
	ListAudit(ctx context.Context, f control.AuditFilter) ([]control.AuditEntry, error)
}

// Emitter receives events for secondary sinks. *Forwarder implements it.
type Emitter interface {
	Emit(ctx context.Context, event *Event)
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Log is the append-only audit trail. Entries are prepared here, persisted by
// the storage layer together with the row they describe, and then handed to
// Committed, which reports append failures and forwards the entry.
type Log struct {
	reader  Reader
	emitter Emitter
	clock   clock.PassiveClock
	log     *zap.SugaredLogger
}

// NewLog creates a Log. emitter may be nil.
func NewLog(reader Reader, emitter Emitter, clk clock.PassiveClock, log *zap.SugaredLogger) *Log {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Log{reader: reader, emitter: emitter, clock: clk, log: log.Named("audit")}
}

// Now is the timestamp source for events that are not committed with a row.
func (l *Log) Now() time.Time {
	return l.clock.Now().UTC()
}

// Prepare builds an entry for a mutation. Seq, Timestamp and PreviousValue are
// filled in by storage when the entry is committed.
func (l *Log) Prepare(actor control.Actor, action control.AuditAction, kind control.TargetKind, targetKey, tenantID string, newValue bool, reason string) control.AuditEntry {
	return control.AuditEntry{
		ID:         uuid.NewString(),
		ActorID:    actor.ID,
		Action:     action,
		TargetKind: kind,
		TargetKey:  targetKey,
		TenantID:   tenantID,
		NewValue:   newValue,
		Reason:     reason,
	}
}

// Committed is called after the primary write returned. An audit append
// failure is logged and counted but never surfaced to the caller.
func (l *Log) Committed(ctx context.Context, c storage.Commit) {
	e := c.Audit
	if c.AuditErr != nil {
		metrics.AuditAppendFailures.WithLabelValues(string(e.TargetKind)).Inc()
		l.log.Warnw("Audit entry not appended after committed mutation",
			"auditId", e.ID,
			"actor", e.ActorID,
			"targetKind", e.TargetKind,
			"targetKey", e.TargetKey,
			"tenant", e.TenantID,
			"newValue", e.NewValue,
			"error", c.AuditErr)
	}
	l.Emit(ctx, EventFromEntry(e))
}

// Emit forwards an event to the secondary sinks, if any.
func (l *Log) Emit(ctx context.Context, event *Event) {
	if l.emitter == nil {
		return
	}
	l.emitter.Emit(ctx, event)
}

// EmitFailure forwards a failure lifecycle event.
func (l *Log) EmitFailure(ctx context.Context, t EventType, rec control.FailureRecord) {
	l.Emit(ctx, EventFromFailure(uuid.NewString(), t, rec, l.Now()))
}

// List returns entries newest first. The limit defaults to 100 and is capped at 1000.
func (l *Log) List(ctx context.Context, f control.AuditFilter) ([]control.AuditEntry, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	entries, err := l.reader.ListAudit(ctx, f)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []control.AuditEntry{}
	}
	return entries, nil
}
