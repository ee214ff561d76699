// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package control

import "fmt"

// Objects and actions checked by an Authorizer.
const (
	ObjectSystemFlags    = "system_flags"
	ObjectTenantControls = "tenant_controls"
	ObjectFailures       = "failures"
	ObjectAudit          = "audit"

	PermWrite   = "write"
	PermResolve = "resolve"
	PermRead    = "read"
)

// Authorizer decides whether an actor may perform action on object.
// Implementations return an error wrapping ErrUnauthorized on denial.
type Authorizer interface {
	Authorize(actor Actor, object, action string) error
}

// RoleAuthorizer allows everything to actors carrying Role and denies the rest.
type RoleAuthorizer struct {
	Role string
}

// SuperadminOnly is the authorizer used when no policy engine is configured.
var SuperadminOnly Authorizer = RoleAuthorizer{Role: RoleSuperadmin}

func (a RoleAuthorizer) Authorize(actor Actor, object, action string) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: anonymous actor", ErrUnauthorized)
	}
	if !actor.HasRole(a.Role) {
		return fmt.Errorf("%w: %s may not %s %s", ErrUnauthorized, actor.ID, action, object)
	}
	return nil
}
