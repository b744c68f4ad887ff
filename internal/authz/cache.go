package authz

import (
	"sync"
	"time"
)

// cacheKey uniquely identifies a point check. Exact-match only.
type cacheKey struct {
	subject  Subject
	action   Action
	resource Resource
}

type cacheEntry struct {
	allowed   bool
	expiresAt time.Time
}

// Cache stores point-check results for a bounded time. It caches both
// allowed and denied outcomes, never errors, and is safe for concurrent
// use. Predicate fragments are deliberately outside its scope: a fragment
// is only valid for the statement it was compiled for.
//
// Choose the TTL against permission volatility; role edits made by this
// application invalidate nothing here, so a short TTL is the safe default.
type Cache struct {
	mu    sync.RWMutex
	items map[cacheKey]cacheEntry
	ttl   time.Duration
}

// NewCache creates a cache whose entries expire after ttl. A zero ttl
// means entries never expire within the cache's lifetime.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{items: make(map[cacheKey]cacheEntry), ttl: ttl}
}

// Get retrieves a cached check result. The second return reports whether a
// live entry was found.
func (c *Cache) Get(subject Subject, action Action, resource Resource) (bool, bool) {
	c.mu.RLock()
	entry, ok := c.items[cacheKey{subject, action, resource}]
	c.mu.RUnlock()
	if !ok {
		return false, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return false, false
	}
	return entry.allowed, true
}

// Set stores a check result.
func (c *Cache) Set(subject Subject, action Action, resource Resource, allowed bool) {
	entry := cacheEntry{allowed: allowed}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.items[cacheKey{subject, action, resource}] = entry
	c.mu.Unlock()
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}
