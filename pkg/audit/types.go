// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

// EventType is the type of a forwarded audit event.
type EventType string

const (
	EventSystemFlagToggled    EventType = "system_flag.toggled"
	EventTenantControlToggled EventType = "tenant_control.toggled"
	EventTenantControlCleared EventType = "tenant_control.cleared"

	EventFailureReported  EventType = "failure.reported"
	EventFailureEscalated EventType = "failure.escalated"
	EventFailureResolved  EventType = "failure.resolved"
)

// Event is the envelope written to secondary sinks. Exactly one of Entry and
// Failure is set.
type Event struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	Severity  control.Severity `json:"severity"`
	Timestamp time.Time        `json:"timestamp"`
	ActorID   string           `json:"actorId,omitempty"`
	TenantID  string           `json:"tenantId,omitempty"`

	Entry   *control.AuditEntry    `json:"entry,omitempty"`
	Failure *control.FailureRecord `json:"failure,omitempty"`
}

// SeverityForEventType returns the default severity for an event type.
// Global switches and escalations are critical since they affect every tenant
// or page an operator.
func SeverityForEventType(t EventType) control.Severity {
	switch t {
	case EventSystemFlagToggled, EventFailureEscalated:
		return control.SeverityCritical
	case EventTenantControlToggled, EventTenantControlCleared, EventFailureReported:
		return control.SeverityWarning
	default:
		return control.SeverityInfo
	}
}

func eventTypeForEntry(e control.AuditEntry) EventType {
	switch {
	case e.TargetKind == control.TargetSystemFlag:
		return EventSystemFlagToggled
	case e.TargetKind == control.TargetFailureRecord:
		return EventFailureResolved
	case e.Action == control.ActionClear:
		return EventTenantControlCleared
	default:
		return EventTenantControlToggled
	}
}

// EventFromEntry wraps a committed audit entry.
func EventFromEntry(e control.AuditEntry) *Event {
	t := eventTypeForEntry(e)
	entry := e
	return &Event{
		ID:        e.ID,
		Type:      t,
		Severity:  SeverityForEventType(t),
		Timestamp: e.Timestamp,
		ActorID:   e.ActorID,
		TenantID:  e.TenantID,
		Entry:     &entry,
	}
}

// EventFromFailure wraps a failure record. Critical records keep their own
// severity so a sink can page on them.
func EventFromFailure(id string, t EventType, rec control.FailureRecord, at time.Time) *Event {
	sev := SeverityForEventType(t)
	if rec.Severity.Rank() > sev.Rank() {
		sev = rec.Severity
	}
	r := rec.Clone()
	return &Event{
		ID:        id,
		Type:      t,
		Severity:  sev,
		Timestamp: at,
		TenantID:  rec.TenantID,
		Failure:   &r,
	}
}
