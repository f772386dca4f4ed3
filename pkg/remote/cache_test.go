package remote

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCacheDisabled(t *testing.T) {
	cache := NewResponseCache(CacheConfig{Enabled: false})
	require.Nil(t, cache)

	// All methods on a nil cache are no-ops.
	cache.Set(context.Background(), "k", []byte("v"))
	_, ok := cache.Get(context.Background(), "k")
	assert.False(t, ok)
	cache.Purge(context.Background())
	assert.NoError(t, cache.Close())
}

func TestResponseCacheLocal(t *testing.T) {
	cache := NewResponseCache(CacheConfig{Enabled: true, Size: 8, TTL: time.Minute})
	ctx := context.Background()

	_, ok := cache.Get(ctx, "GET /api/v1/apps")
	assert.False(t, ok)

	cache.Set(ctx, "GET /api/v1/apps", []byte(`[]`))
	body, ok := cache.Get(ctx, "GET /api/v1/apps")
	require.True(t, ok)
	assert.Equal(t, []byte(`[]`), body)

	cache.Purge(ctx)
	_, ok = cache.Get(ctx, "GET /api/v1/apps")
	assert.False(t, ok)
}

func TestResponseCacheRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultCacheConfig()
	cfg.RedisURL = mr.Addr()
	cache := NewResponseCache(cfg)
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "GET /api/v1/users/a", []byte(`{"id":"u1"}`))

	t.Run("local hit", func(t *testing.T) {
		body, ok := cache.Get(ctx, "GET /api/v1/users/a")
		require.True(t, ok)
		assert.JSONEq(t, `{"id":"u1"}`, string(body))
	})

	t.Run("redis backfills the local layer", func(t *testing.T) {
		cache.local.Purge()
		body, ok := cache.Get(ctx, "GET /api/v1/users/a")
		require.True(t, ok)
		assert.JSONEq(t, `{"id":"u1"}`, string(body))

		// Now present locally again.
		_, ok = cache.local.Get("GET /api/v1/users/a")
		assert.True(t, ok)
	})

	t.Run("redis TTL expires entries", func(t *testing.T) {
		cache.local.Purge()
		mr.FastForward(cfg.TTL + time.Second)
		_, ok := cache.Get(ctx, "GET /api/v1/users/a")
		assert.False(t, ok)
	})
}
