package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects and pings before handing the client out.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to ping redis", "addr", cfg.Addr, "error", err)
		_ = rdb.Close()
		return nil, err
	}

	logger.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return rdb, nil
}

// TokenCache keeps gateway OAuth tokens so every replica shares one token per credential.
type TokenCache struct {
	client *redis.Client
}

var _ ports.TokenCache = (*TokenCache)(nil)

func NewTokenCache(client *redis.Client) *TokenCache {
	return &TokenCache{client: client}
}

func (c *TokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	token, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return token, true, nil
}

func (c *TokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, key, token, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
