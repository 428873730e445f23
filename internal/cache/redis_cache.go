package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"nexora/backend/internal/domain"
)

const (
	mirrorKeyPrefix  = "nexora:cart-mirror:"
	revokedKeyPrefix = "nexora:revoked-token:"
)

type RedisCache struct {
	client    *redis.Client
	mirrorTTL time.Duration
}

// NewRedisCache connects lazily; call Ping to verify. mirrorTTL <= 0 keeps
// mirrored guest carts until erased.
func NewRedisCache(addr string, password string, db int, mirrorTTL time.Duration) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{client: client, mirrorTTL: mirrorTTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Read(ctx context.Context, key string) ([]domain.Line, error) {
	val, err := c.client.Get(ctx, mirrorKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return []domain.Line{}, nil
	}
	if err != nil {
		return nil, err
	}

	var lines []domain.Line
	if err := json.Unmarshal([]byte(val), &lines); err != nil {
		return nil, err
	}
	return domain.CloneLines(lines), nil
}

func (c *RedisCache) Write(ctx context.Context, key string, lines []domain.Line) error {
	payload, err := json.Marshal(domain.CloneLines(lines))
	if err != nil {
		return err
	}
	ttl := c.mirrorTTL
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, mirrorKeyPrefix+key, payload, ttl).Err()
}

func (c *RedisCache) Erase(ctx context.Context, key string) error {
	return c.client.Del(ctx, mirrorKeyPrefix+key).Err()
}

func (c *RedisCache) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, revokedKeyPrefix+tokenID, "1", ttl).Err()
}

func (c *RedisCache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKeyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
