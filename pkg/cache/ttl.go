package cache

import (
	"time"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache combines LRU capacity eviction with per-entry expiry. Expired
// entries are dropped lazily on access, so memory stays bounded by capacity
// while reads never observe stale values.
type TTLCache[K comparable, V any] struct {
	lru *LRUCache[K, ttlEntry[V]]
	ttl time.Duration
}

// NewTTLCache creates a cache holding at most capacity entries, each expiring
// ttl after its last Put. Capacity must be positive (it panics otherwise,
// like NewLRUCache); a non-positive ttl disables expiry.
func NewTTLCache[K comparable, V any](capacity int, ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		lru: NewLRUCache[K, ttlEntry[V]](capacity),
		ttl: ttl,
	}
}

// SetEvictCallback sets a callback invoked when entries leave the cache
// through capacity eviction or Clear. Lazy expiry drops also invoke it.
func (c *TTLCache[K, V]) SetEvictCallback(fn func(key K, value V)) {
	if fn == nil {
		c.lru.SetEvictCallback(nil)
		return
	}
	c.lru.SetEvictCallback(func(key K, entry ttlEntry[V]) {
		fn(key, entry.value)
	})
}

// Get retrieves a live value and marks it as recently used. Expired entries
// are removed and reported as misses.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.expired(entry) {
		c.lru.Remove(key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Put adds or refreshes a value, resetting its expiry window.
// Returns the previous live value if one existed.
func (c *TTLCache[K, V]) Put(key K, value V) (V, bool) {
	entry := ttlEntry[V]{value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}

	prev, existed := c.lru.Put(key, entry)
	if existed && !c.expired(prev) {
		return prev.value, true
	}

	var zero V
	return zero, false
}

// Remove removes an entry regardless of expiry state.
// Returns the value and true if a live entry was removed.
func (c *TTLCache[K, V]) Remove(key K) (V, bool) {
	entry, existed := c.lru.Remove(key)
	if existed && !c.expired(entry) {
		return entry.value, true
	}

	var zero V
	return zero, false
}

// Len reports the number of stored entries, including expired ones that have
// not been touched since expiring.
func (c *TTLCache[K, V]) Len() int {
	return c.lru.Len()
}

// Clear removes all entries, invoking the eviction callback for each.
func (c *TTLCache[K, V]) Clear() {
	c.lru.Clear()
}

func (c *TTLCache[K, V]) expired(entry ttlEntry[V]) bool {
	return !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)
}
