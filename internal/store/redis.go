package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSettings keeps settings in a single Redis hash so several dashboard
// instances can share cache state.
type RedisSettings struct {
	client *redis.Client
	hash   string
}

// NewRedisSettings connects to addr and verifies the connection.
func NewRedisSettings(ctx context.Context, addr, password string, db int) (*RedisSettings, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisSettings{client: client, hash: "station:settings"}, nil
}

// NewRedisSettingsFromClient wraps an existing client.
func NewRedisSettingsFromClient(client *redis.Client, hash string) *RedisSettings {
	return &RedisSettings{client: client, hash: hash}
}

func (s *RedisSettings) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.HGet(ctx, s.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis hget %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisSettings) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisSettings) Close() error {
	return s.client.Close()
}
