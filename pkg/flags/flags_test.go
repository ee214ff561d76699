// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/telekom/tenant-control-plane/pkg/audit"
	"github.com/telekom/tenant-control-plane/pkg/cache"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/metrics"
	"github.com/telekom/tenant-control-plane/pkg/storage"
)

var (
	root  = control.Actor{ID: "root", Roles: []string{control.RoleSuperadmin}}
	admin = control.Actor{ID: "ops", Roles: []string{"admin"}}
)

type fixture struct {
	store *Store
	mem   *storage.Memory
	clock *testingclock.FakeClock
}

func newFixture(t *testing.T, opts ...storage.MemoryOption) fixture {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	mem := storage.NewMemory(append([]storage.MemoryOption{storage.WithClock(clk)}, opts...)...)
	log := zaptest.NewLogger(t).Sugar()
	auditLog := audit.NewLog(mem, nil, clk, log)
	c := cache.New[map[control.Key]bool]("system_flags", 5*time.Second, clk)
	return fixture{store: New(mem, auditLog, nil, c, log), mem: mem, clock: clk}
}

// failingBackend fails every call.
type failingBackend struct{}

func (failingBackend) ListSystemFlags(context.Context) ([]control.SystemFlag, error) {
	return nil, control.StorageError("list system flags", errors.New("connection refused"))
}

func (failingBackend) PutSystemFlag(context.Context, control.SystemFlag, control.AuditEntry) (storage.Commit, error) {
	return storage.Commit{}, errors.New("connection refused")
}

func TestGetAll_Defaults(t *testing.T) {
	f := newFixture(t)

	got := f.store.GetAll(context.Background())
	assert.Len(t, got, len(control.SystemKeys()))
	for k, v := range got {
		assert.False(t, v, k)
		assert.True(t, k.IsSystemFlag(), k)
	}
}

func TestToggle_ReadYourWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// warm the cache
	require.False(t, f.store.Get(ctx, control.KeyGlobalMaintenance))

	flag, err := f.store.Toggle(ctx, root, "global_maintenance", true)
	require.NoError(t, err)
	assert.Equal(t, control.KeyGlobalMaintenance, flag.Key)
	assert.True(t, flag.Value)
	assert.Equal(t, "root", flag.UpdatedBy)
	assert.Equal(t, f.clock.Now(), flag.UpdatedAt)

	assert.True(t, f.store.Get(ctx, control.KeyGlobalMaintenance))
}

func TestToggle_Audited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Toggle(ctx, root, "signups_disabled", true)
	require.NoError(t, err)
	// idempotent toggles still audit
	_, err = f.store.Toggle(ctx, root, "signups_disabled", true)
	require.NoError(t, err)

	entries, err := f.mem.ListAudit(ctx, control.AuditFilter{TargetKind: control.TargetSystemFlag})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	newest, oldest := entries[0], entries[1]
	require.NotNil(t, oldest.PreviousValue)
	assert.False(t, *oldest.PreviousValue, "first write records the default")
	assert.True(t, oldest.NewValue)
	require.NotNil(t, newest.PreviousValue)
	assert.True(t, *newest.PreviousValue)
	assert.Greater(t, newest.Seq, oldest.Seq)
	assert.Equal(t, "root", newest.ActorID)
	assert.Equal(t, control.ActionToggle, newest.Action)
}

func TestToggle_SameValueTwiceGivesIdenticalEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.store.Toggle(ctx, root, "signups_disabled", false)
		require.NoError(t, err)
	}

	entries, err := f.mem.ListAudit(ctx, control.AuditFilter{TargetKey: "signups_disabled"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	newest, oldest := entries[0], entries[1]
	require.NotNil(t, oldest.PreviousValue)
	require.NotNil(t, newest.PreviousValue)
	assert.Equal(t, *oldest.PreviousValue, *newest.PreviousValue)
	assert.Equal(t, oldest.NewValue, newest.NewValue)
	assert.Equal(t, f.store.GetAll(ctx)[control.KeySignupsDisabled], *newest.PreviousValue)
}

func TestToggle_StampedAtCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Toggle(ctx, root, "global_maintenance", false)
	require.NoError(t, err)
	f.clock.Step(time.Minute)
	flag, err := f.store.Toggle(ctx, root, "global_maintenance", true)
	require.NoError(t, err)

	entries, err := f.mem.ListAudit(ctx, control.AuditFilter{TargetKey: "global_maintenance"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, f.clock.Now(), entries[0].Timestamp)
	assert.Equal(t, entries[0].Timestamp, flag.UpdatedAt)
	assert.True(t, entries[1].Timestamp.Before(entries[0].Timestamp))
}

func TestToggle_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		actor  control.Actor
		key    string
		target error
	}{
		{name: "non superadmin", actor: admin, key: "global_maintenance", target: control.ErrUnauthorized},
		{name: "anonymous", actor: control.Actor{}, key: "global_maintenance", target: control.ErrUnauthorized},
		{name: "unknown key", actor: root, key: "free_pizza", target: control.ErrUnknownFlag},
		{name: "tenant-only key", actor: root, key: "inbox_disabled", target: control.ErrUnknownFlag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.store.Toggle(context.Background(), tt.actor, tt.key, true)
			require.ErrorIs(t, err, tt.target)

			entries, _ := f.mem.ListAudit(context.Background(), control.AuditFilter{})
			assert.Empty(t, entries)
			rows, _ := f.mem.ListSystemFlags(context.Background())
			assert.Empty(t, rows)
		})
	}
}

func TestToggle_UnauthorizedBeforeValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Toggle(context.Background(), admin, "free_pizza", true)
	assert.ErrorIs(t, err, control.ErrUnauthorized)
}

func TestToggle_AuditFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, storage.WithAuditAppendHook(func(control.AuditEntry) error {
		return errors.New("audit table locked")
	}))
	ctx := context.Background()

	counter := metrics.AuditAppendFailures.WithLabelValues(string(control.TargetSystemFlag))
	before := testutil.ToFloat64(counter)

	flag, err := f.store.Toggle(ctx, root, "billing_disabled", true)
	require.NoError(t, err)
	assert.True(t, flag.Value)
	assert.True(t, f.store.Get(ctx, control.KeyBillingDisabled))
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestStorageFailure(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()
	s := New(failingBackend{}, audit.NewLog(storage.NewMemory(), nil, nil, log), nil, nil, log)
	ctx := context.Background()

	assert.Equal(t, Defaults(), s.GetAll(ctx))

	_, err := s.Toggle(ctx, root, "global_maintenance", true)
	require.ErrorIs(t, err, control.ErrStorage)

	_, err = s.List(ctx)
	assert.ErrorIs(t, err, control.ErrStorage)
}

func TestList_IncludesDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Toggle(ctx, root, "ai_engine_disabled", true)
	require.NoError(t, err)

	flags, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, flags, len(control.SystemKeys()))
	for _, fl := range flags {
		if fl.Key == control.KeyAIEngineDisabled {
			assert.True(t, fl.Value)
			assert.Equal(t, "root", fl.UpdatedBy)
			continue
		}
		assert.False(t, fl.Value)
		assert.True(t, fl.UpdatedAt.IsZero())
	}
}

func TestToggle_ConcurrentAuditChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.store.Toggle(ctx, root, "incident_mode_enabled", i%2 == 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := f.mem.ListAudit(ctx, control.AuditFilter{TargetKey: "incident_mode_enabled"})
	require.NoError(t, err)
	require.Len(t, entries, n)

	// walk oldest to newest: each entry's previous value is the prior entry's new value
	for i := n - 1; i > 0; i-- {
		older, newer := entries[i], entries[i-1]
		assert.Less(t, older.Seq, newer.Seq)
		require.NotNil(t, newer.PreviousValue)
		assert.Equal(t, older.NewValue, *newer.PreviousValue)
	}
	assert.Equal(t, entries[0].NewValue, f.store.Get(ctx, control.KeyIncidentModeEnabled))
}
