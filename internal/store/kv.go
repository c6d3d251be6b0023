package store

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound 表示键不存在
var ErrNotFound = errors.New("key not found")

// KV 抽象的持久化 KV 存储（用于在单元测试中替换 Redis）
// 值为 UTF-8 字符串，跨进程重启持久
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
}

// RedisKV 基于 go-redis 的 KV 实现
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrNotFound
		}
		return "", err
	}
	return val, nil
}

// Set 写入键值（不设置 TTL，持久保存）
func (r *RedisKV) Set(ctx context.Context, key string, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}
