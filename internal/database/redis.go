package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillsend/quillsend/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the counter-store client and verifies the
// connection. Redis backs the ephemeral, high-churn keys: rate-limit
// windows and the token revocation blacklist.
func NewRedisClient(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	logger.Info("redis connection established", slog.String("addr", cfg.Addr()))

	return client, nil
}
