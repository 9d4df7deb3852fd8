// Package lrucache is a typed wrapper over hashicorp's expirable LRU:
// bounded size, optional per-entry TTL, safe for concurrent use. The
// platform uses it for alert dedup windows and per-tenant top-key
// tracking.
package lrucache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded LRU of K to V. Entries expire after the TTL given
// at construction (zero TTL means entries only leave by eviction).
type Cache[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// New builds a Cache holding at most size entries. size <= 0 falls back
// to 128.
func New[K comparable, V any](size int, ttl time.Duration) *Cache[K, V] {
	if size <= 0 {
		size = 128
	}
	return &Cache[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

// Get returns the value for key and whether it was present and fresh.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Set stores key, evicting the oldest entry if the cache is full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Peek returns the value for key without refreshing its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.lru.Peek(key)
}

// Keys returns the keys currently held, oldest first.
func (c *Cache[K, V]) Keys() []K {
	return c.lru.Keys()
}

// Len reports the number of live entries.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}
