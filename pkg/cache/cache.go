package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is used when Set is called with a zero ttl
const DefaultTTL = 10 * time.Minute

// ErrInvalidKey is returned for keys without a tenant or scope
var ErrInvalidKey = errors.New("invalid cache key")

// Key identifies a cached report
type Key struct {
	TenantID string
	From     time.Time
	To       time.Time
	Scope    string
}

// String renders the key as tenant:from:to:scope with RFC 3339 UTC instants
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s",
		k.TenantID,
		k.From.UTC().Format(time.RFC3339),
		k.To.UTC().Format(time.RFC3339),
		k.Scope,
	)
}

// Validate checks the key can be stored
func (k Key) Validate() error {
	if k.TenantID == "" || k.Scope == "" {
		return ErrInvalidKey
	}
	return nil
}

// Cache stores serialized reports
type Cache interface {
	// Get returns the value and true on a hit. Expired entries are misses.
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	// Set stores value under key for ttl, or DefaultTTL when ttl is zero
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error
	// Clear removes every entry
	Clear(ctx context.Context) error
}

// Stats reports cache effectiveness
type Stats struct {
	Hits      int64
	Misses    int64
	ItemCount int64
	HitRate   float64
}

func effectiveTTL(ttl, fallback time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTTL
}
