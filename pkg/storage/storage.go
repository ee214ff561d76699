// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package storage is the persistent storage collaborator of the control plane.
//
// It holds four tables: system flags, tenant controls, failure records and the
// audit log. Every control mutation writes its row and appends its audit entry
// in one storage unit, so audit entries for the same key land in commit order.
// Row UpdatedAt and audit Timestamp are stamped by the store inside that unit;
// values passed in by callers are ignored.
// An audit append that fails after the row write does not undo the row write;
// it is reported through Commit.AuditErr instead.
package storage

import (
	"context"
	"time"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

// Commit describes the outcome of a mutation that carried an audit entry.
type Commit struct {
	// Previous is the value before the write. When no row existed it is the
	// key's compiled-in default.
	Previous *bool
	// At is taken after the row lock is held. The written row and the audit
	// entry both carry it, and it never decreases along Seq for a key.
	At time.Time
	// Audit is the appended entry with Seq, Timestamp and PreviousValue filled in.
	Audit control.AuditEntry
	// AuditErr is set when the primary write committed but the audit append did not.
	AuditErr error
}

// UpsertResult is returned by UpsertFailure.
type UpsertResult struct {
	Record  control.FailureRecord
	Created bool
	// PreviousSeverity is the severity before a merge, empty on create.
	PreviousSeverity control.Severity
}

// FailureQuery selects failure records.
type FailureQuery struct {
	TenantID   string
	ActiveOnly bool
	Limit      int
}

// Resolution carries the data written when a failure is resolved. The
// resolution time is the commit time.
type Resolution struct {
	ID         string
	ResolvedBy string
}

// Store is the narrow read/write contract the control plane consumes.
type Store interface {
	ListSystemFlags(ctx context.Context) ([]control.SystemFlag, error)
	PutSystemFlag(ctx context.Context, flag control.SystemFlag, entry control.AuditEntry) (Commit, error)

	ListTenantControls(ctx context.Context, tenantID string) ([]control.TenantControl, error)
	PutTenantControl(ctx context.Context, tc control.TenantControl, entry control.AuditEntry) (Commit, error)
	// DeleteTenantControl returns control.ErrNotFound when no override exists.
	DeleteTenantControl(ctx context.Context, tenantID string, key control.Key, entry control.AuditEntry) (Commit, error)

	// UpsertFailure inserts rec, or merges it into the active record with the same
	// tenant, category and source.
	UpsertFailure(ctx context.Context, rec control.FailureRecord) (UpsertResult, error)
	GetFailure(ctx context.Context, id string) (control.FailureRecord, error)
	// ResolveFailure returns control.ErrNotFound when the record is absent or
	// already resolved. Nothing is written in that case. The entry's TenantID
	// is taken from the resolved record.
	ResolveFailure(ctx context.Context, res Resolution, entry control.AuditEntry) (control.FailureRecord, Commit, error)
	ListFailures(ctx context.Context, q FailureQuery) ([]control.FailureRecord, error)
	CountActiveFailures(ctx context.Context) (map[control.Severity]int, error)

	ListAudit(ctx context.Context, f control.AuditFilter) ([]control.AuditEntry, error)

	Ping(ctx context.Context) error
	Close()
}
