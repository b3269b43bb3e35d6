package redis

import (
	"context"
	"fmt"
	"time"

	goRedis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastygo/identity/internal/config"
)

const pingTimeout = 5 * time.Second

// Options turns the cache connection settings into client options. REDIS_PASSWORD and
// REDIS_DB take precedence over credentials and database embedded in REDIS_URL.
func Options(cfg config.RedisConfig, appName string) (*goRedis.Options, error) {
	opts, err := goRedis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if opts.ClientName == "" {
		opts.ClientName = appName
	}
	// The cache is optional; a slow Redis must not hold up a sign-in for long.
	opts.DialTimeout = time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond
	return opts, nil
}

// NewClient connects to the identity cache and pings it once.
func NewClient(ctx context.Context, cfg config.RedisConfig, appName string, logger *zap.Logger) (*goRedis.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := Options(cfg, appName)
	if err != nil {
		return nil, err
	}

	client := goRedis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	logger.Info("connected to redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client, nil
}
