package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Redis tests need a live server; set REDIS_ADDRESS (e.g. localhost:6379) to run them.
func newTestRedisCache(t *testing.T, size int, ttl time.Duration, onEvict EvictCallback) Cache {
	t.Helper()
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("Skipping Redis tests: set REDIS_ADDRESS to enable")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.FlushDB(ctx).Err())
	require.NoError(t, client.Close())

	c, err := New("redis", ProviderConfig{
		Size:         size,
		TTL:          ttl,
		RedisAddress: addr,
		RedisDB:      15,
		OnEvict:      onEvict,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := newTestRedisCache(t, 100, 10*time.Second, nil)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", "salam")
	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "salam", val)
	assert.Equal(t, 1, c.Len())
}

func TestRedisCache_SizeBound(t *testing.T) {
	ctx := context.Background()
	var evicted []string
	c := newTestRedisCache(t, 2, 10*time.Second, func(key, _ string) {
		evicted = append(evicted, key)
	})

	c.Set(ctx, "a", "1")
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "b", "2")
	time.Sleep(2 * time.Millisecond)
	c.Set(ctx, "c", "3")

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"a"}, evicted)
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := newTestRedisCache(t, 10, 100*time.Millisecond, nil)

	c.Set(ctx, "k", "v")
	require.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "k")
		return !ok
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, c.Len())
}

func TestRedisCache_BadAddress(t *testing.T) {
	_, err := New("redis", ProviderConfig{Size: 1, TTL: time.Second, RedisAddress: "127.0.0.1:1"})
	require.Error(t, err)
}
