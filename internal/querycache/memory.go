package querycache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMaxEntries = 10000

// MemoryCache is an in-process LRU whose entries expire after a TTL.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache creates a cache holding at most maxEntries values for ttl each.
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryCache{lru: expirable.NewLRU[string, []byte](maxEntries, nil, ttl)}
}

func memoryKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

// Get returns a copy of the cached value.
func (c *MemoryCache) Get(_ context.Context, tenantID, key string) ([]byte, bool, error) {
	v, ok := c.lru.Get(memoryKey(tenantID, key))
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value.
func (c *MemoryCache) Set(_ context.Context, tenantID, key string, value []byte) error {
	c.lru.Add(memoryKey(tenantID, key), append([]byte(nil), value...))
	return nil
}

// InvalidateTenant removes the tenant's entries.
func (c *MemoryCache) InvalidateTenant(_ context.Context, tenantID string) error {
	prefix := tenantID + "\x00"
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Close purges the cache.
func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
