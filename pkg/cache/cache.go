// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package cache is a short-TTL read-through cache placed in front of the
// control plane stores.
//
// Writers call Invalidate before returning. Every key carries a generation
// number that Invalidate bumps; a load that started under an older generation
// is returned to its callers but never stored, so a writer's next read always
// goes to storage. Concurrent misses for the same key and generation share one
// load. The shared load is detached from the cancellation of whichever caller
// started it and bounded by LoadTimeout instead; a caller whose own context
// ends stops waiting without failing the others.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/telekom/tenant-control-plane/pkg/metrics"
)

// LoadTimeout bounds a shared load.
const LoadTimeout = 10 * time.Second

type entry[V any] struct {
	value   V
	expires time.Time
}

type stamp struct {
	gen   uint64
	epoch uint64
}

// Cache maps string keys to values of type V.
type Cache[V any] struct {
	name  string
	ttl   time.Duration
	clock clock.PassiveClock

	mu      sync.Mutex
	entries map[string]entry[V]
	gens    map[string]uint64
	epoch   uint64

	group singleflight.Group
}

// New returns a cache whose entries live for ttl. A ttl <= 0 disables caching;
// every Get then calls its loader.
func New[V any](name string, ttl time.Duration, clk clock.PassiveClock) *Cache[V] {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Cache[V]{
		name:    name,
		ttl:     ttl,
		clock:   clk,
		entries: map[string]entry[V]{},
		gens:    map[string]uint64{},
	}
}

// Get returns the cached value for key or calls load on a miss.
func (c *Cache[V]) Get(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if c.ttl <= 0 {
		metrics.CacheRequests.WithLabelValues(c.name, "bypass").Inc()
		return load(ctx)
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.clock.Now().Before(e.expires) {
		c.mu.Unlock()
		metrics.CacheRequests.WithLabelValues(c.name, "hit").Inc()
		return e.value, nil
	}
	st := stamp{gen: c.gens[key], epoch: c.epoch}
	c.mu.Unlock()
	metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()

	flightKey := key + "#" + strconv.FormatUint(st.epoch, 10) + "." + strconv.FormatUint(st.gen, 10)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LoadTimeout)
		defer cancel()
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		if c.gens[key] == st.gen && c.epoch == st.epoch {
			c.entries[key] = entry[V]{value: v, expires: c.clock.Now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Invalidate drops key and fences off loads that are still in flight for it.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
	metrics.CacheInvalidations.WithLabelValues(c.name).Inc()
}

// InvalidateAll drops every entry.
func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = map[string]entry[V]{}
	c.epoch++
	c.mu.Unlock()
	metrics.CacheInvalidations.WithLabelValues(c.name).Inc()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
