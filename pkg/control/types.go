// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"fmt"
	"time"
)

// RoleSuperadmin is the only role allowed to mutate controls or resolve failures.
const RoleSuperadmin = "superadmin"

// Actor is the authenticated caller supplied by the identity collaborator.
type Actor struct {
	ID    string
	Email string
	Roles []string
}

// HasRole reports whether the actor carries role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SystemFlag is a global boolean switch.
type SystemFlag struct {
	Key       Key       `json:"key"`
	Value     bool      `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
}

// TenantControl is a per-tenant override of a key.
type TenantControl struct {
	TenantID  string    `json:"tenantId"`
	Key       Key       `json:"key"`
	Value     bool      `json:"value"`
	Reason    string    `json:"reason"`
	UpdatedBy string    `json:"updatedBy"`
	UpdatedAt time.Time `json:"updatedAt"`
	// TenantOnly is set when Key has no system flag counterpart.
	TenantOnly bool `json:"tenantOnly"`
}

// Category groups failures by the subsystem that raised them.
type Category string

const (
	CategoryAuth        Category = "auth"
	CategoryIntegration Category = "integration"
	CategoryPayment     Category = "payment"
	CategoryCalendar    Category = "calendar"
	CategoryAI          Category = "ai"
	CategorySystem      Category = "system"
)

// Categories lists every failure category.
func Categories() []Category {
	return []Category{CategoryAuth, CategoryIntegration, CategoryPayment, CategoryCalendar, CategoryAI, CategorySystem}
}

// ParseCategory validates s as a failure category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", Validationf("unknown failure category %q", s)
}

// Severity ranks failure records.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity, most important first.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityWarning, SeverityInfo}
}

// ParseSeverity validates s as a severity.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), nil
	}
	return "", Validationf("unknown severity %q", s)
}

// Rank orders severities: critical > warning > info. Unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// FailureRecord is a tracked, categorized fault raised by a subsystem.
type FailureRecord struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	Category    Category          `json:"category"`
	Source      string            `json:"source"`
	Severity    Severity          `json:"severity"`
	Message     string            `json:"message"`
	IsActive    bool              `json:"isActive"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	LastSeenAt  time.Time         `json:"lastSeenAt"`
	Occurrences int               `json:"occurrences"`
	ResolvedAt  *time.Time        `json:"resolvedAt,omitempty"`
	ResolvedBy  string            `json:"resolvedBy,omitempty"`
}

// DedupKey identifies the active record a report is merged into.
func (r FailureRecord) DedupKey() string {
	return fmt.Sprintf("%s/%s/%s", r.TenantID, r.Category, r.Source)
}

// Clone returns a deep copy, so callers can't mutate stored metadata.
func (r FailureRecord) Clone() FailureRecord {
	out := r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// TargetKind is the kind of row an audit entry describes.
type TargetKind string

const (
	TargetSystemFlag    TargetKind = "system_flag"
	TargetTenantControl TargetKind = "tenant_control"
	TargetFailureRecord TargetKind = "failure_record"
)

// AuditAction is the mutation recorded by an audit entry.
type AuditAction string

const (
	ActionToggle  AuditAction = "toggle"
	ActionClear   AuditAction = "clear"
	ActionResolve AuditAction = "resolve"
)

// AuditEntry is one append-only line of control plane history.
type AuditEntry struct {
	ID         string      `json:"id"`
	Seq        int64       `json:"seq"`
	ActorID    string      `json:"actorId"`
	Action     AuditAction `json:"action"`
	TargetKind TargetKind  `json:"targetKind"`
	TargetKey  string      `json:"targetKey"`
	TenantID   string      `json:"tenantId,omitempty"`
	// PreviousValue is the stored value before the mutation, or the key's
	// default when no row existed. Entries from older stores may carry nil.
	PreviousValue *bool     `json:"previousValue"`
	NewValue      bool      `json:"newValue"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AuditFilter narrows an audit listing. Zero values match everything.
type AuditFilter struct {
	TargetKind TargetKind
	TargetKey  string
	TenantID   string
	Limit      int
}

// Matches reports whether e passes the filter (Limit is ignored).
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.TargetKind != "" && e.TargetKind != f.TargetKind {
		return false
	}
	if f.TargetKey != "" && e.TargetKey != f.TargetKey {
		return false
	}
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	return true
}

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }
