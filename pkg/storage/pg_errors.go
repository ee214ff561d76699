// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		return strings.TrimSpace(pgErr.Code)
	}
	return ""
}

// IsUniqueViolation reports a 23505 from Postgres.
func IsUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

// IsCheckViolation reports a 23514 from Postgres.
func IsCheckViolation(err error) bool {
	return pgErrorCode(err) == "23514"
}
