package extract

import "time"

// DefaultCacheCapacity bounds the session extraction cache.
const DefaultCacheCapacity = 50

type cacheEntry struct {
	hash       string
	result     *Result
	insertedAt time.Time
}

// Cache is a session-scoped bounded map from content hash to a previous
// extraction result. Eviction is strict insertion order: when a put pushes
// the cache past capacity, the single oldest-inserted entry is removed.
// Insertion order approximates staleness well enough here because repeated
// identical views are the common case and only genuinely new views evict.
//
// Not safe for concurrent use; the engine serializes all access.
type Cache struct {
	capacity int
	entries  map[string]*cacheEntry
	order    []string // hashes, oldest first
}

// NewCache creates a cache bounded to capacity entries. Non-positive
// capacities fall back to DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*cacheEntry),
	}
}

// Get returns the cached result for hash, marked FromCache, or (nil, false)
// on a miss. The returned value is a shallow copy so callers cannot mutate
// the cached provenance flags.
func (c *Cache) Get(hash string) (*Result, bool) {
	e, ok := c.entries[hash]
	if !ok {
		return nil, false
	}
	r := *e.result
	r.FromCache = true
	return &r, true
}

// Put stores a result under hash. Re-putting an existing hash refreshes the
// value without changing its position in the eviction queue.
func (c *Cache) Put(hash string, result *Result) {
	if e, ok := c.entries[hash]; ok {
		e.result = result
		return
	}
	c.entries[hash] = &cacheEntry{hash: hash, result: result, insertedAt: time.Now().UTC()}
	c.order = append(c.order, hash)
	for len(c.entries) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return len(c.entries) }

// Clear drops every entry. Called on subject switch to avoid cross-subject
// contamination of hash-keyed results.
func (c *Cache) Clear() {
	c.entries = make(map[string]*cacheEntry)
	c.order = nil
}
