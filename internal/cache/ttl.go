package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value   V
	expires time.Time
}

// TTL is an in-memory key/value store whose entries expire after a fixed
// duration. Expired entries are invisible to Get and are reclaimed by Sweep.
type TTL[K comparable, V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[K]item[V]
	now   func() time.Time
}

// NewTTL creates a cache with the given entry lifetime
func NewTTL[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:   ttl,
		items: make(map[K]item[V]),
		now:   time.Now,
	}
}

// Get returns the value for key if present and not expired
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok || !c.now().Before(it.expires) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Set stores value under key, replacing any previous entry
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expires: c.now().Add(c.ttl)}
}

// Len returns the number of stored entries, expired or not
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep drops expired entries and returns how many were removed
func (c *TTL[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, it := range c.items {
		if !now.Before(it.expires) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}
