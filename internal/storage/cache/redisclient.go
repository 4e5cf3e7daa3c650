// --- File: internal/storage/cache/redisclient.go ---
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JULAME/trianglerh-web/pkg/dispatch"
)

const tokenKeyPrefix = "dispatch:tokens:"

// cachedToken is the JSON shape kept in Redis.
type cachedToken struct {
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedisClient keeps one JSON-encoded token list per user.
type RedisClient struct {
	rdb *redis.Client
}

func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisClient{rdb: rdb}, nil
}

// TokenKey is the Redis key holding uid's token list.
func TokenKey(uid string) string {
	return tokenKeyPrefix + uid
}

func (c *RedisClient) GetTokens(ctx context.Context, uid string) ([]dispatch.DeviceToken, bool, error) {
	raw, err := c.rdb.Get(ctx, TokenKey(uid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", TokenKey(uid), err)
	}

	var cached []cachedToken
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false, fmt.Errorf("corrupt token cache entry for %s: %w", uid, err)
	}
	out := make([]dispatch.DeviceToken, 0, len(cached))
	for _, t := range cached {
		out = append(out, dispatch.DeviceToken{Token: t.Token, Platform: dispatch.Platform(t.Platform), CreatedAt: t.CreatedAt})
	}
	return out, true, nil
}

func (c *RedisClient) SetTokens(ctx context.Context, uid string, tokens []dispatch.DeviceToken, ttl time.Duration) error {
	cached := make([]cachedToken, 0, len(tokens))
	for _, t := range tokens {
		cached = append(cached, cachedToken{Token: t.Token, Platform: string(t.Platform), CreatedAt: t.CreatedAt})
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, TokenKey(uid), raw, ttl).Err()
}

func (c *RedisClient) DropTokens(ctx context.Context, uid string) error {
	return c.rdb.Del(ctx, TokenKey(uid)).Err()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
