package cache

import "sync"

// lruNode is an entry in the recency ring. The ring is circular with a
// sentinel head: head.next is the most recently used entry, head.prev the
// least.
type lruNode[K comparable, V any] struct {
	key        K
	value      V
	prev, next *lruNode[K, V]
}

func (n *lruNode[K, V]) unlink() {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

// LRUCache holds at most capacity entries and discards the least recently
// used one to admit a new key. Safe for concurrent use. The eviction
// callback runs with the cache lock held, so it must not call back into the
// cache.
type LRUCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[K]*lruNode[K, V]
	head     *lruNode[K, V]
	onEvict  func(key K, value V)
}

// NewLRUCache creates a cache bounded to capacity entries. Capacity must be
// positive; it panics otherwise.
func NewLRUCache[K comparable, V any](capacity int) *LRUCache[K, V] {
	if capacity <= 0 {
		panic("cache: capacity must be positive")
	}
	head := &lruNode[K, V]{}
	head.prev, head.next = head, head
	return &LRUCache[K, V]{
		capacity: capacity,
		entries:  make(map[K]*lruNode[K, V], capacity+1),
		head:     head,
	}
}

// SetEvictCallback registers fn to observe every entry that leaves the cache
// through capacity eviction, Remove, or Clear.
func (c *LRUCache[K, V]) SetEvictCallback(fn func(key K, value V)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get returns the value stored under key and marks it most recently used.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	n.unlink()
	c.pushFront(n)
	return n.value, true
}

// Put stores value under key, evicting the least recently used entry if the
// cache is full. It returns the value previously stored under key, if any.
func (c *LRUCache[K, V]) Put(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		prev := n.value
		n.value = value
		n.unlink()
		c.pushFront(n)
		return prev, true
	}

	n := &lruNode[K, V]{key: key, value: value}
	c.entries[key] = n
	c.pushFront(n)
	if len(c.entries) > c.capacity {
		c.drop(c.head.prev)
	}

	var zero V
	return zero, false
}

// Remove deletes key and returns the value it held, if any. The eviction
// callback observes the removal.
func (c *LRUCache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.drop(n)
	return n.value, true
}

// Len reports the number of stored entries.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes every entry, reporting each to the eviction callback.
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, n := range c.entries {
		delete(c.entries, key)
		if c.onEvict != nil {
			c.onEvict(n.key, n.value)
		}
	}
	c.head.prev, c.head.next = c.head, c.head
}

// pushFront links n in as the most recently used entry. Lock held.
func (c *LRUCache[K, V]) pushFront(n *lruNode[K, V]) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

// drop unlinks n from both structures and reports it. Lock held.
func (c *LRUCache[K, V]) drop(n *lruNode[K, V]) {
	n.unlink()
	delete(c.entries, n.key)
	if c.onEvict != nil {
		c.onEvict(n.key, n.value)
	}
}
