package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces report keys
const DefaultRedisPrefix = "creatorstats:report:"

// RedisConfig configures RedisCache
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	Prefix     string
	DefaultTTL time.Duration
}

// RedisCache stores reports in Redis with native key expiry
type RedisCache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisClient parses cfg and verifies connectivity
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client, cfg RedisConfig) *RedisCache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{
		client:     client,
		prefix:     prefix,
		defaultTTL: effectiveTTL(cfg.DefaultTTL, DefaultTTL),
	}
}

func (c *RedisCache) key(k Key) string {
	return c.prefix + k.String()
}

// Get returns the stored value; redis.Nil is a miss
func (c *RedisCache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	return data, true, nil
}

// Set stores value with a Redis TTL
func (c *RedisCache) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if err := key.Validate(); err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.key(key), value, effectiveTTL(ttl, c.defaultTTL)).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Clear deletes every key under the prefix. Other data in the same
// database is left alone.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()

	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to delete report keys: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for prefix %s: %w", c.prefix, err)
	}

	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("failed to delete report keys: %w", err)
		}
	}
	return nil
}

// Client exposes the underlying client for health checks
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
