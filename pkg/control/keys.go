// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"fmt"
	"sort"
	"strings"
)

// Key names a boolean control. The set is closed and known at compile time.
type Key string

const (
	KeyGlobalMaintenance    Key = "global_maintenance"
	KeyIncidentModeEnabled  Key = "incident_mode_enabled"
	KeySignupsDisabled      Key = "signups_disabled"
	KeyAIEngineDisabled     Key = "ai_engine_disabled"
	KeyIntegrationsDisabled Key = "integrations_disabled"
	KeyBillingDisabled      Key = "billing_disabled"

	// Tenant-only capabilities. They have no system flag counterpart.
	KeyAIAssistantEnabled       Key = "ai_assistant_enabled"
	KeyCalendarSyncDisabled     Key = "calendar_sync_disabled"
	KeyInboxDisabled            Key = "inbox_disabled"
	KeyInvestorDashboardEnabled Key = "investor_dashboard_enabled"
	KeyAccountSuspended         Key = "account_suspended"
)

// KeyScope tells where a key may be set.
type KeyScope int

const (
	// ScopeSystemAndTenant keys exist as a system flag and may be overridden per tenant.
	ScopeSystemAndTenant KeyScope = iota
	// ScopeTenantOnly keys can only be set as a tenant control.
	ScopeTenantOnly
)

type keyInfo struct {
	scope       KeyScope
	def         bool
	description string
}

var registry = map[Key]keyInfo{
	KeyGlobalMaintenance:    {ScopeSystemAndTenant, false, "platform is in maintenance mode"},
	KeyIncidentModeEnabled:  {ScopeSystemAndTenant, false, "show the platform incident banner to every tenant"},
	KeySignupsDisabled:      {ScopeSystemAndTenant, false, "new signups are rejected"},
	KeyAIEngineDisabled:     {ScopeSystemAndTenant, false, "AI engine requests are rejected"},
	KeyIntegrationsDisabled: {ScopeSystemAndTenant, false, "third-party integrations are paused"},
	KeyBillingDisabled:      {ScopeSystemAndTenant, false, "billing runs are paused"},

	KeyAIAssistantEnabled:       {ScopeTenantOnly, false, "tenant has the AI assistant"},
	KeyCalendarSyncDisabled:     {ScopeTenantOnly, false, "calendar sync is paused for the tenant"},
	KeyInboxDisabled:            {ScopeTenantOnly, false, "tenant inbox is read-only"},
	KeyInvestorDashboardEnabled: {ScopeTenantOnly, false, "tenant has the investor dashboard"},
	KeyAccountSuspended:         {ScopeTenantOnly, false, "tenant account is suspended"},
}

// ParseKey validates s against the closed key enumeration.
func ParseKey(s string) (Key, error) {
	k := Key(strings.TrimSpace(s))
	if _, ok := registry[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, s)
	}
	return k, nil
}

// ParseSystemKey validates s and additionally requires the key to be a system flag.
func ParseSystemKey(s string) (Key, error) {
	k := Key(strings.TrimSpace(s))
	info, ok := registry[k]
	if !ok || info.scope != ScopeSystemAndTenant {
		return "", fmt.Errorf("%w: %q", ErrUnknownFlag, s)
	}
	return k, nil
}

// Known reports whether k is part of the enumeration.
func (k Key) Known() bool {
	_, ok := registry[k]
	return ok
}

// IsSystemFlag reports whether k can be set globally.
func (k Key) IsSystemFlag() bool {
	info, ok := registry[k]
	return ok && info.scope == ScopeSystemAndTenant
}

// TenantOnly reports whether k is a known key without a system flag counterpart.
func (k Key) TenantOnly() bool {
	info, ok := registry[k]
	return ok && info.scope == ScopeTenantOnly
}

// Default returns the compiled-in value of k. Unknown keys are closed (false).
func (k Key) Default() bool {
	return registry[k].def
}

// Description is a short operator-facing explanation of the key.
func (k Key) Description() string {
	return registry[k].description
}

func (k Key) String() string { return string(k) }

// AllKeys returns every known key in lexical order.
func AllKeys() []Key {
	out := make([]Key, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SystemKeys returns the keys that exist as system flags, in lexical order.
func SystemKeys() []Key {
	out := make([]Key, 0, len(registry))
	for _, k := range AllKeys() {
		if k.IsSystemFlag() {
			out = append(out, k)
		}
	}
	return out
}
