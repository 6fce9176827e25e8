package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*IdempotencyCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyCache(client), s
}

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	cache, s := newCache(t)
	ctx := context.Background()

	key := "collaborator-1:order-42"
	value := []byte(`{"transaction_id":"abc","provider_request_id":"ws_CO_1"}`)

	result, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, result)

	require.NoError(t, cache.Set(ctx, key, value, 24*time.Hour))

	result, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, result)
	assert.True(t, s.Exists("stk:push:"+key))
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	cache, s := newCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte(`{}`), time.Second))
	s.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}

func TestIdempotencyCache_ReserveRelease(t *testing.T) {
	cache, s := newCache(t)
	ctx := context.Background()

	ok, err := cache.Reserve(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Reserve(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second reservation must fail while the first is held")

	require.NoError(t, cache.Release(ctx, "k"))

	ok, err = cache.Reserve(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	s.FastForward(31 * time.Second)
	ok, err = cache.Reserve(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock expires on its own")
}

func TestIdempotencyCache_RedisDown(t *testing.T) {
	cache, s := newCache(t)
	s.Close()

	_, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
	_, err = cache.Reserve(context.Background(), "k", time.Second)
	assert.Error(t, err)
}
