// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

func auditEntry(kind control.TargetKind, key, tenant string, value bool) control.AuditEntry {
	return control.AuditEntry{
		ID:         uuid.NewString(),
		ActorID:    "admin",
		Action:     control.ActionToggle,
		TargetKind: kind,
		TargetKey:  key,
		TenantID:   tenant,
		NewValue:   value,
		Timestamp:  time.Now().UTC(),
	}
}

func failure(tenant string, cat control.Category, source string, sev control.Severity, msg string, at time.Time) control.FailureRecord {
	return control.FailureRecord{
		ID:         uuid.NewString(),
		TenantID:   tenant,
		Category:   cat,
		Source:     source,
		Severity:   sev,
		Message:    msg,
		CreatedAt:  at,
		LastSeenAt: at,
	}
}

// runStoreContract exercises behaviour every Store implementation must share.
// tenant ids are namespaced so the suite can run against a shared database.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	ns := uuid.NewString()[:8]
	tenant := func(s string) string { return ns + "-" + s }

	t.Run("system flag write reports previous value", func(t *testing.T) {
		s := newStore(t)
		flag := control.SystemFlag{Key: control.KeySignupsDisabled, Value: true, UpdatedAt: time.Now().UTC(), UpdatedBy: "admin"}

		c1, err := s.PutSystemFlag(ctx, flag, auditEntry(control.TargetSystemFlag, string(flag.Key), "", true))
		require.NoError(t, err)
		require.NoError(t, c1.AuditErr)

		c2, err := s.PutSystemFlag(ctx, flag, auditEntry(control.TargetSystemFlag, string(flag.Key), "", true))
		require.NoError(t, err)
		require.NotNil(t, c2.Previous)
		assert.True(t, *c2.Previous)
		assert.Greater(t, c2.Audit.Seq, c1.Audit.Seq)

		flags, err := s.ListSystemFlags(ctx)
		require.NoError(t, err)
		var found bool
		for _, f := range flags {
			if f.Key == control.KeySignupsDisabled {
				found = true
				assert.True(t, f.Value)
			}
		}
		assert.True(t, found)
	})

	t.Run("tenant controls are isolated per tenant", func(t *testing.T) {
		s := newStore(t)
		t1, t2 := tenant("t1"), tenant("t2")
		tc := control.TenantControl{TenantID: t1, Key: control.KeyInboxDisabled, Value: true, Reason: "abuse", UpdatedBy: "admin", UpdatedAt: time.Now().UTC()}
		c, err := s.PutTenantControl(ctx, tc, auditEntry(control.TargetTenantControl, string(tc.Key), t1, true))
		require.NoError(t, err)
		// no override yet: previous is the key default
		require.NotNil(t, c.Audit.PreviousValue)
		assert.Equal(t, control.KeyInboxDisabled.Default(), *c.Audit.PreviousValue)
		assert.Equal(t, c.Previous, c.Audit.PreviousValue)

		got, err := s.ListTenantControls(ctx, t1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "abuse", got[0].Reason)

		got, err = s.ListTenantControls(ctx, t2)
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = s.DeleteTenantControl(ctx, t2, control.KeyInboxDisabled, auditEntry(control.TargetTenantControl, "inbox_disabled", t2, false))
		assert.ErrorIs(t, err, control.ErrNotFound)

		c, err = s.DeleteTenantControl(ctx, t1, control.KeyInboxDisabled, auditEntry(control.TargetTenantControl, "inbox_disabled", t1, false))
		require.NoError(t, err)
		require.NotNil(t, c.Previous)
		assert.True(t, *c.Previous)
	})

	t.Run("failure upsert merges active triple", func(t *testing.T) {
		s := newStore(t)
		t1 := tenant("t1")
		now := time.Now().UTC().Truncate(time.Millisecond)

		r1, err := s.UpsertFailure(ctx, failure(t1, control.CategoryIntegration, "whatsapp", control.SeverityWarning, "sync failed", now))
		require.NoError(t, err)
		assert.True(t, r1.Created)

		later := now.Add(time.Second)
		r2, err := s.UpsertFailure(ctx, failure(t1, control.CategoryIntegration, "whatsapp", control.SeverityCritical, "sync failed repeatedly", later))
		require.NoError(t, err)
		assert.False(t, r2.Created)
		assert.Equal(t, r1.Record.ID, r2.Record.ID)
		assert.Equal(t, control.SeverityWarning, r2.PreviousSeverity)
		assert.Equal(t, control.SeverityCritical, r2.Record.Severity)
		assert.Equal(t, "sync failed repeatedly", r2.Record.Message)
		assert.Equal(t, 2, r2.Record.Occurrences)

		active, err := s.ListFailures(ctx, FailureQuery{TenantID: t1, ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, active, 1)
	})

	t.Run("resolve is single shot", func(t *testing.T) {
		s := newStore(t)
		t1 := tenant("t1")
		r, err := s.UpsertFailure(ctx, failure(t1, control.CategoryAuth, "sso", control.SeverityInfo, "slow", time.Now().UTC()))
		require.NoError(t, err)

		res := Resolution{ID: r.Record.ID, ResolvedBy: "admin"}
		rec, c, err := s.ResolveFailure(ctx, res, auditEntry(control.TargetFailureRecord, r.Record.ID, "", false))
		require.NoError(t, err)
		assert.False(t, rec.IsActive)
		require.NotNil(t, rec.ResolvedAt)
		assert.True(t, rec.ResolvedAt.Equal(c.Audit.Timestamp))
		require.NoError(t, c.AuditErr)
		assert.Equal(t, t1, c.Audit.TenantID)

		before, err := s.ListAudit(ctx, control.AuditFilter{})
		require.NoError(t, err)
		_, _, err = s.ResolveFailure(ctx, res, auditEntry(control.TargetFailureRecord, r.Record.ID, t1, false))
		assert.ErrorIs(t, err, control.ErrNotFound)
		after, err := s.ListAudit(ctx, control.AuditFilter{})
		require.NoError(t, err)
		assert.Equal(t, len(before), len(after))

		_, _, err = s.ResolveFailure(ctx, Resolution{ID: "missing"}, auditEntry(control.TargetFailureRecord, "missing", t1, false))
		assert.ErrorIs(t, err, control.ErrNotFound)

		// a resolved triple can be reported again as a new record
		r2, err := s.UpsertFailure(ctx, failure(t1, control.CategoryAuth, "sso", control.SeverityInfo, "slow again", time.Now().UTC()))
		require.NoError(t, err)
		assert.True(t, r2.Created)
		assert.NotEqual(t, r.Record.ID, r2.Record.ID)

		all, err := s.ListFailures(ctx, FailureQuery{TenantID: t1})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("concurrent toggles keep every audit entry in order", func(t *testing.T) {
		s := newStore(t)
		t1 := tenant("race")
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v := i%2 == 0
				tc := control.TenantControl{TenantID: t1, Key: control.KeyAccountSuspended, Value: v, Reason: "r", UpdatedBy: "a", UpdatedAt: time.Now().UTC()}
				_, err := s.PutTenantControl(ctx, tc, auditEntry(control.TargetTenantControl, string(tc.Key), t1, v))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		entries, err := s.ListAudit(ctx, control.AuditFilter{TenantID: t1})
		require.NoError(t, err)
		require.Len(t, entries, n)
		// newest first: each entry's previous value is the next older entry's new value
		for i := 0; i < n-1; i++ {
			require.NotNil(t, entries[i].PreviousValue)
			assert.Equal(t, entries[i+1].NewValue, *entries[i].PreviousValue)
			assert.Greater(t, entries[i].Seq, entries[i+1].Seq)
			assert.False(t, entries[i].Timestamp.Before(entries[i+1].Timestamp), "timestamp order must follow seq")
		}
		require.NotNil(t, entries[n-1].PreviousValue)
		assert.Equal(t, control.KeyAccountSuspended.Default(), *entries[n-1].PreviousValue)

		got, err := s.ListTenantControls(ctx, t1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, entries[0].NewValue, got[0].Value)
		assert.True(t, got[0].UpdatedAt.Equal(entries[0].Timestamp))
	})

	t.Run("first write records the default as previous value", func(t *testing.T) {
		s := newStore(t)
		t1 := tenant("first")
		key := control.KeyCalendarSyncDisabled
		tc := control.TenantControl{TenantID: t1, Key: key, Value: false, Reason: "r", UpdatedBy: "a"}

		var entries []control.AuditEntry
		for i := 0; i < 2; i++ {
			c, err := s.PutTenantControl(ctx, tc, auditEntry(control.TargetTenantControl, string(key), t1, false))
			require.NoError(t, err)
			require.NoError(t, c.AuditErr)
			entries = append(entries, c.Audit)
		}
		require.NotNil(t, entries[0].PreviousValue)
		require.NotNil(t, entries[1].PreviousValue)
		assert.Equal(t, *entries[0].PreviousValue, *entries[1].PreviousValue)
		assert.Equal(t, entries[0].NewValue, entries[1].NewValue)
	})

	t.Run("commit time is stamped by the store", func(t *testing.T) {
		s := newStore(t)
		stale := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
		flag := control.SystemFlag{Key: control.KeyBillingDisabled, Value: true, UpdatedAt: stale, UpdatedBy: "admin"}
		entry := auditEntry(control.TargetSystemFlag, string(flag.Key), "", true)
		entry.Timestamp = stale

		c, err := s.PutSystemFlag(ctx, flag, entry)
		require.NoError(t, err)
		assert.True(t, c.At.After(stale))
		assert.True(t, c.Audit.Timestamp.Equal(c.At))

		flags, err := s.ListSystemFlags(ctx)
		require.NoError(t, err)
		for _, f := range flags {
			if f.Key == flag.Key {
				assert.True(t, f.UpdatedAt.Equal(c.At))
			}
		}
	})
}
