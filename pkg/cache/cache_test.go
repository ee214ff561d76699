// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestCacheHitUntilExpiry(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	c := New[int]("test", 5*time.Second, clk)
	var loads atomic.Int32
	load := func(context.Context) (int, error) { return int(loads.Add(1)), nil }

	v, err := c.Get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.Get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clk.Step(6 * time.Second)
	v, err = c.Get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCacheInvalidate(t *testing.T) {
	c := New[string]("test", time.Minute, nil)
	val := "old"
	load := func(context.Context) (string, error) { return val, nil }

	v, _ := c.Get(context.Background(), "k", load)
	assert.Equal(t, "old", v)

	val = "new"
	c.Invalidate("k")
	v, _ = c.Get(context.Background(), "k", load)
	assert.Equal(t, "new", v)

	val = "newer"
	c.InvalidateAll()
	v, _ = c.Get(context.Background(), "k", load)
	assert.Equal(t, "newer", v)
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	c := New[int]("test", time.Minute, nil)
	calls := 0
	_, err := c.Get(context.Background(), "k", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	require.Error(t, err)
	v, err := c.Get(context.Background(), "k", func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}

func TestCacheStaleLoadIsNotStoredAfterInvalidate(t *testing.T) {
	c := New[string]("test", time.Minute, nil)
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v, err := c.Get(context.Background(), "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "stale", v)
	}()

	<-started
	c.Invalidate("k")
	close(release)
	wg.Wait()

	v, err := c.Get(context.Background(), "k", func(context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	c := New[int]("test", time.Minute, nil)
	var loads atomic.Int32
	gate := make(chan struct{})
	load := func(context.Context) (int, error) {
		loads.Add(1)
		<-gate
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", load)
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	assert.LessOrEqual(t, loads.Load(), int32(10))
	assert.GreaterOrEqual(t, loads.Load(), int32(1))
	assert.Equal(t, 1, c.Len())
}

func TestCacheDisabled(t *testing.T) {
	c := New[int]("test", 0, nil)
	n := 0
	load := func(context.Context) (int, error) { n++; return n, nil }
	v1, _ := c.Get(context.Background(), "k", load)
	v2, _ := c.Get(context.Background(), "k", load)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
	assert.Equal(t, 0, c.Len())
}

func TestCacheSharedLoadSurvivesLeaderCancel(t *testing.T) {
	c := New[string]("test", time.Minute, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	load := func(ctx context.Context) (string, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
			return "overrides", nil
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, "acme", load)
		leaderErr <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	follower := make(chan result, 1)
	go func() {
		v, err := c.Get(context.Background(), "acme", load)
		follower <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, "overrides", got.v)
	assert.Equal(t, 1, c.Len())
}
