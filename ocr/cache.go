package ocr

import "sync"

// Cache stores recognition results keyed by image fingerprint for the life of
// a batch or session. Duplicate uploads short-circuit recognition entirely.
// Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Result
}

// NewCache returns an empty result cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Result)}
}

// Get returns the cached result for a fingerprint, if any. Callers must treat
// the result as read-only.
func (c *Cache) Get(fingerprint string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[fingerprint]
	return r, ok
}

// Put stores a result under its fingerprint.
func (c *Cache) Put(fingerprint string, r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = r
}

// Len reports the number of cached results.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
