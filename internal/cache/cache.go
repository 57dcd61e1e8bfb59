// SPDX-License-Identifier: MIT

// Package cache provides a small in-memory TTL cache that remembers expired
// values as a last-known-good fallback.
package cache

import (
	"sync"
	"time"
)

// Stats holds cache counters.
type Stats struct {
	Hits        int64 // fresh Get hits
	Misses      int64 // Get calls with no fresh value
	StaleServed int64 // Stale calls that returned a value
	Sets        int64
	Evictions   int64 // entries dropped by the janitor
	CurrentSize int
}

type entry[V any] struct {
	value      V
	expiration time.Time
}

// Memory is a thread-safe TTL cache keyed by string.
type Memory[V any] struct {
	mu        sync.Mutex
	entries   map[string]*entry[V]
	stats     Stats
	now       func() time.Time
	retention time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMemory creates a cache. Expired entries stay available through Stale
// for retention after expiry; a janitor sweeps older ones every
// cleanupInterval. A zero cleanupInterval disables the janitor.
func NewMemory[V any](cleanupInterval, retention time.Duration) *Memory[V] {
	c := &Memory[V]{
		entries:   make(map[string]*entry[V]),
		now:       time.Now,
		retention: retention,
		stop:      make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

// Get returns the value for key if it has not expired.
func (c *Memory[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expiration) {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

// Stale returns the value for key even if it has expired, as long as the
// janitor has not removed it.
func (c *Memory[V]) Stale(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.stats.StaleServed++
	return e.value, true
}

// Set stores value under key for ttl.
func (c *Memory[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry[V]{value: value, expiration: c.now().Add(ttl)}
	c.stats.Sets++
}

// Delete removes key.
func (c *Memory[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats returns a copy of the counters.
func (c *Memory[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

// deleteExpired removes entries past expiry plus retention.
func (c *Memory[V]) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.retention)
	count := 0
	for key, e := range c.entries {
		if e.expiration.Before(cutoff) {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.Evictions += int64(count)
	return count
}

// Stop ends the janitor. It is safe to call more than once.
func (c *Memory[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Memory[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}
