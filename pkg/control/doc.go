// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package control defines the shared vocabulary of the tenant control plane:
// the closed set of control keys, the persisted record types (system flags,
// tenant controls, failure records, audit entries) and the error taxonomy
// every store and the HTTP layer agree on.
//
// Keys are validated at the boundary with ParseKey. A string that is not part
// of the enumeration never reaches storage.
package control
