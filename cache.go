package cakemail

import (
	"sync"
	"time"
)

// CacheEntry is a stored GET response.
type CacheEntry struct {
	Body       []byte
	StatusCode int
	ExpiresAt  time.Time
}

// Cache stores successful GET responses for reuse. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// InMemoryCache is a mutex-guarded map cache with lazy TTL expiry.
type InMemoryCache struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates an empty cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{store: make(map[string]*CacheEntry)}
}

// Get returns the entry for key if present and unexpired.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		if cur, still := c.store[key]; still && cur == entry {
			delete(c.store, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry, true
}

// Set stores entry under key for ttl.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	entry.ExpiresAt = time.Now().Add(ttl)
	c.mu.Lock()
	c.store[key] = entry
	c.mu.Unlock()
}

// Delete removes key.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

// Clear removes everything.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	c.store = make(map[string]*CacheEntry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}
