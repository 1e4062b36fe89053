package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the in-process cache
const DefaultMaxEntries = 4096

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryConfig configures MemoryCache
type MemoryConfig struct {
	MaxEntries int
	DefaultTTL time.Duration
}

// MemoryCache is an in-process LRU with per-entry expiry. Expired entries
// are evicted lazily on read.
type MemoryCache struct {
	cache      *lru.Cache[string, entry]
	defaultTTL time.Duration
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an in-process cache
func NewMemoryCache(cfg MemoryConfig) (*MemoryCache, error) {
	size := cfg.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}

	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}

	return &MemoryCache{
		cache:      c,
		defaultTTL: effectiveTTL(cfg.DefaultTTL, DefaultTTL),
		now:        time.Now,
	}, nil
}

// Get returns a live entry
func (c *MemoryCache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	k := key.String()
	e, ok := c.cache.Get(k)
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}

	if !c.now().Before(e.expiresAt) {
		c.cache.Remove(k)
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	return e.value, true, nil
}

// Set stores a copy of value
func (c *MemoryCache) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if err := key.Validate(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	c.cache.Add(key.String(), entry{
		value:     stored,
		expiresAt: c.now().Add(effectiveTTL(ttl, c.defaultTTL)),
	})
	return nil
}

// Clear purges all entries
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.cache.Purge()
	return nil
}

// Stats returns hit/miss counters and the current entry count
func (c *MemoryCache) Stats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.cache.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
