// Package cache provides the engine's ambient per-process caches: pool
// identity lookups with a long TTL and reserve snapshots with a short one.
// The clock is injectable so expiry is deterministic in tests.
package cache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

type entry struct {
	value     interface{}
	expiresAt time.Time
}

// TTLCache is an LRU cache whose entries additionally expire after a TTL.
type TTLCache struct {
	inner *lru.Cache
	ttl   time.Duration
	now   Clock
}

// New creates a TTLCache holding up to size entries, each valid for ttl.
// A zero ttl means entries never expire (identity caches). If now is nil,
// time.Now is used.
func New(size int, ttl time.Duration, now Clock) (*TTLCache, error) {
	inner, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &TTLCache{inner: inner, ttl: ttl, now: now}, nil
}

// Set stores value under key, stamping it with the cache TTL.
func (c *TTLCache) Set(key uint64, value interface{}) {
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}
	c.inner.Add(key, entry{value: value, expiresAt: expiresAt})
}

// Get returns the cached value for key, or (nil, false) if absent or expired.
// Expired entries are evicted on access.
func (c *TTLCache) Get(key uint64) (interface{}, bool) {
	raw, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	e := raw.(entry)
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.inner.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Remove drops key from the cache.
func (c *TTLCache) Remove(key uint64) {
	c.inner.Remove(key)
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache) Len() int {
	return c.inner.Len()
}

// Purge clears the cache.
func (c *TTLCache) Purge() {
	c.inner.Purge()
}

// PairKey hashes an ordered token pair into a cache key.
func PairKey(a, b common.Address) uint64 {
	var buf [2 * common.AddressLength]byte
	copy(buf[:common.AddressLength], a.Bytes())
	copy(buf[common.AddressLength:], b.Bytes())
	return xxhash.Sum64(buf[:])
}

// StringKey hashes an arbitrary string key (oracle symbols).
func StringKey(s string) uint64 {
	return xxhash.Sum64String(s)
}
