package launchctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "launchctx:jti:"

// RedisStore is a Redis-backed Store for deployments where the token proxy
// and token hook run as separate instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(config Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Address,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{client: client, ttl: config.TTL}, nil
}

func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	ttl := s.ttl
	if !entry.Expires.IsZero() {
		ttl = time.Until(entry.Expires)
	}
	return s.client.Set(ctx, redisKeyPrefix+entry.TokenID, data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, tokenID string) (*Entry, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+tokenID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
