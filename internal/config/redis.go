package config

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to the configured Redis server. It returns nil
// when Redis is not configured or does not answer a ping; callers then run
// without the diagnosis cache.
func NewRedisClient(ctx context.Context, cfg RedisConfig, logger *slog.Logger) *redis.Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		return nil
	}

	var tlsConfig *tls.Config
	if cfg.TLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConfig,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, diagnosis cache disabled", "addr", cfg.Addr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}
