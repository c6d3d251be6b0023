package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestKV(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, NewRedisKV(client)
}

func TestRedisKV_SetGet(t *testing.T) {
	_, kv := setupTestKV(t)
	ctx := context.Background()

	err := kv.Set(ctx, "companion:test", `{"value":1}`)
	require.NoError(t, err)

	val, err := kv.Get(ctx, "companion:test")
	require.NoError(t, err)
	assert.Equal(t, `{"value":1}`, val)
}

func TestRedisKV_GetMissing(t *testing.T) {
	_, kv := setupTestKV(t)

	_, err := kv.Get(context.Background(), "companion:missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisKV_SetPersistsWithoutTTL(t *testing.T) {
	mr, kv := setupTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "companion:durable", "v"))

	// 没有 TTL，时间推进后仍然存在
	mr.FastForward(24 * time.Hour)

	val, err := kv.Get(ctx, "companion:durable")
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}
