package remote

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheConfig controls the read-response cache. TTL bounds entry lifetime;
// TTI is the idle cutoff applied on the Redis side (entries touched within
// TTI keep their remaining TTL alive there).
type CacheConfig struct {
	Enabled bool
	Size    int
	TTL     time.Duration
	TTI     time.Duration

	// RedisURL enables the shared L2 cache when set.
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// DefaultCacheConfig mirrors the connector's historical defaults: caching
// on, five-minute TTL, one-minute TTI.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: true,
		Size:    1024,
		TTL:     5 * time.Minute,
		TTI:     time.Minute,
	}
}

// ResponseCache caches raw response bodies for remote reads: an in-process
// expirable LRU in front of an optional Redis layer shared between connector
// instances.
type ResponseCache struct {
	cfg   CacheConfig
	local *expirable.LRU[string, []byte]
	redis *redis.Client
}

// NewResponseCache builds a cache from config. A nil return means caching is
// disabled; all methods on a nil cache are safe no-ops.
func NewResponseCache(cfg CacheConfig) *ResponseCache {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	c := &ResponseCache{
		cfg:   cfg,
		local: expirable.NewLRU[string, []byte](cfg.Size, nil, cfg.TTL),
	}
	if cfg.RedisURL != "" {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return c
}

// Get returns the cached body for key, consulting the local layer first.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	if body, ok := c.local.Get(key); ok {
		return body, true
	}
	if c.redis == nil {
		return nil, false
	}
	body, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	if c.cfg.TTI > 0 {
		// Touch: keep hot entries alive on the shared layer.
		c.redis.Expire(ctx, key, c.cfg.TTL)
	}
	c.local.Add(key, body)
	return body, true
}

// Set stores the body for key in both layers.
func (c *ResponseCache) Set(ctx context.Context, key string, body []byte) {
	if c == nil {
		return
	}
	c.local.Add(key, body)
	if c.redis != nil {
		c.redis.Set(ctx, key, body, c.cfg.TTL)
	}
}

// Purge clears the local layer. Called at the start of every reconciliation
// pass so a pass always sees fresh remote state.
func (c *ResponseCache) Purge(ctx context.Context) {
	if c == nil {
		return
	}
	c.local.Purge()
	if c.redis != nil {
		c.redis.FlushDB(ctx)
	}
}

// Close releases the Redis connection, if any.
func (c *ResponseCache) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}
