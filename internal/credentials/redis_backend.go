package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps credentials in redis so a login survives restarts.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to redisURL and verifies the connection.
// Keys are stored under prefix.
func NewRedisBackend(ctx context.Context, redisURL, prefix string) (*RedisBackend, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	value, err := b.client.Get(ctx, b.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %w", ErrBackendFailure, err)
	}
	return value, nil
}

// Set stores value without expiration, credentials are removed only by logout.
func (b *RedisBackend) Set(ctx context.Context, key, value string) error {
	if err := b.client.Set(ctx, b.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendFailure, err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendFailure, err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
