package dedup

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the bound on the in-memory cache. The LRU bound keeps a
// long-lived connection epoch from growing without limit; evicting the
// oldest fingerprints is acceptable because relays only redeliver recent
// events.
const DefaultSize = 4096

// MemoryCache is the default in-process Cache, backed by a bounded LRU.
type MemoryCache struct {
	entries *lru.Cache[string, struct{}]
}

// NewMemoryCache creates a MemoryCache holding at most size keys. A size of
// zero or less selects DefaultSize.
func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, struct{}](size)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &MemoryCache{entries: entries}
}

// Seen reports whether the key was already recorded, recording it if not.
func (c *MemoryCache) Seen(key string) bool {
	present, _ := c.entries.ContainsOrAdd(key, struct{}{})
	return present
}

// Clear drops all recorded keys.
func (c *MemoryCache) Clear() {
	c.entries.Purge()
}

// Len returns the number of recorded keys.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
