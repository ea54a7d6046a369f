package tracker

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisKV adapts a redis client to the tracker's durable KV contract.
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	// No TTL: deletion marks never expire.
	return r.client.Set(ctx, key, value, 0).Err()
}
