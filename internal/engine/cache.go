package engine

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of engines retained.
const DefaultCacheSize = 64

// Cache is the process-wide engine cache, keyed by segment location.
// Engines call Cache() on themselves after merges and index builds to
// keep hot segments resident; the query path probes it before loading.
// A nil *Cache is valid and caches nothing.
type Cache struct {
	lru *lru.Cache[string, Engine]
}

// NewCache creates an engine cache holding up to size engines.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, _ := lru.New[string, Engine](size)
	return &Cache{lru: c}
}

// Put retains an engine, evicting the least recently used if full.
func (c *Cache) Put(e Engine) {
	if c == nil || e == nil {
		return
	}
	c.lru.Add(e.Location(), e)
}

// Get returns the cached engine for a location, if any.
func (c *Cache) Get(location string) (Engine, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(location)
}

// Remove drops a location from the cache.
func (c *Cache) Remove(location string) {
	if c == nil {
		return
	}
	c.lru.Remove(location)
}

// Len returns the number of cached engines.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
