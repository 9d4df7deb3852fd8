// Package memcache is a small in-process byte cache over ristretto,
// used as a read-through layer in front of backend GETs. Admission is
// best-effort: ristretto may drop a Set under pressure, which is fine
// for a cache whose source of truth lives elsewhere.
package memcache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	defaultMaxCostBytes = 64 << 20 // 64 MiB
	defaultCounters     = 1e6
)

// Cache holds opaque byte values keyed by string.
type Cache struct {
	r *ristretto.Cache[string, []byte]
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	maxCostBytes int64
}

// WithMaxBytes caps the cache's total cost budget.
func WithMaxBytes(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.maxCostBytes = n
		}
	}
}

// New builds an empty Cache.
func New(opts ...Option) (*Cache, error) {
	cfg := &config{maxCostBytes: defaultMaxCostBytes}
	for _, opt := range opts {
		opt(cfg)
	}
	r, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: defaultCounters,
		MaxCost:     cfg.maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{r: r}, nil
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(key string) ([]byte, bool) {
	return c.r.Get(key)
}

// Set stores value at the given byte cost, optionally with a TTL
// (ttl <= 0 means no expiry). The entry may be dropped by admission.
func (c *Cache) Set(key string, value []byte, cost int64, ttl time.Duration) {
	if ttl > 0 {
		c.r.SetWithTTL(key, value, cost, ttl)
		return
	}
	c.r.Set(key, value, cost)
}

// Del removes key if present.
func (c *Cache) Del(key string) {
	c.r.Del(key)
}

// Wait blocks until pending Sets have been admitted or dropped. Only
// tests need the determinism.
func (c *Cache) Wait() {
	c.r.Wait()
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.r.Close()
}
