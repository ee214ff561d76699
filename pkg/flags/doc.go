// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package flags holds the system-wide kill switches.
//
// Every system-scoped key has a compiled-in default that applies until a
// superadmin stores a value. Reads go through a short-TTL cache; toggles write
// the flag and its audit entry in one storage unit and invalidate the cache
// before returning.
package flags
