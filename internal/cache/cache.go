package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is the injectable TTL cache shared by the aggregator (short-lived
// response cache), the classifier (mapping lookups) and the parser (learned
// source formats). It is an explicit dependency, never a package-level
// singleton, so tests can reset it between cases.
type Cache struct {
	inner      *gocache.Cache
	defaultTTL time.Duration
}

func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &Cache{
		inner:      gocache.New(defaultTTL, cleanupInterval),
		defaultTTL: defaultTTL,
	}
}

func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.inner.Get(key)
}

func (c *Cache) Put(key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.inner.Set(key, value, ttl)
}

// Invalidate removes a single key, used when an admin edit makes a cached
// decision stale (source format, category mapping).
func (c *Cache) Invalidate(key string) {
	if c == nil {
		return
	}
	c.inner.Delete(key)
}

// Reset drops everything. Tests call this between cases.
func (c *Cache) Reset() {
	if c == nil {
		return
	}
	c.inner.Flush()
}
