// Package cache provides generic, thread-safe in-memory caches with bounded
// growth: an LRU cache evicting by capacity and a TTL cache layering
// per-entry expiry on top of it.
//
// Both caches are mutex-synchronized, O(1) per operation, and support an
// eviction callback for resource cleanup. The TTL variant drops expired
// entries lazily on access, so memory stays bounded by capacity even when
// nothing sweeps the cache.
//
// # Usage
//
//	recent := cache.NewLRUCache[string, *RenderProfile](256)
//	recent.Put("profile:1080p", profile)
//	if p, ok := recent.Get("profile:1080p"); ok {
//		// use p
//	}
//
// With expiry, for records that go stale on their own (deduplication
// windows, short-lived execution records):
//
//	seen := cache.NewTTLCache[string, uuid.UUID](10_000, 24*time.Hour)
//	seen.Put(idempotencyKey, executionID)
//
// # Resource Cleanup
//
// When cached values hold resources, register a callback to release them on
// eviction:
//
//	handles := cache.NewLRUCache[string, *os.File](10)
//	handles.SetEvictCallback(func(path string, f *os.File) {
//		f.Close()
//	})
//
// The callback fires for capacity evictions, Remove, Clear, and (for
// TTLCache) lazy expiry drops. It runs while the cache lock is held; do not
// call back into the cache from it.
package cache
