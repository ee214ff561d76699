// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the actor lacks the superadmin role.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation covers bad keys, missing reasons and malformed values.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned for missing tenants and failure records.
	ErrNotFound = errors.New("not found")
	// ErrStorage wraps failures of the persistent storage collaborator.
	ErrStorage = errors.New("storage failure")

	ErrUnknownKey     = fmt.Errorf("%w: unknown key", ErrValidation)
	ErrUnknownFlag    = fmt.Errorf("%w: unknown system flag", ErrValidation)
	ErrTenantNotFound = fmt.Errorf("%w: tenant", ErrNotFound)
)

// Validationf builds an ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// StorageError wraps err as ErrStorage, keeping the cause in the chain.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
