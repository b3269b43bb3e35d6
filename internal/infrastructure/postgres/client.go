package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fastygo/identity/internal/config"
)

const pingTimeout = 5 * time.Second

// PoolConfig maps the database settings onto a pgxpool config. Connections identify
// themselves with appName so store traffic can be told apart in pg_stat_activity.
func PoolConfig(cfg config.DatabaseConfig, appName string) (*pgxpool.Config, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pgxCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pgxCfg.MinConns = min(int32(cfg.MaxIdleConns), pgxCfg.MaxConns)
	}
	if cfg.MaxConnLifetime > 0 {
		pgxCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if appName != "" {
		if _, set := pgxCfg.ConnConfig.RuntimeParams["application_name"]; !set {
			pgxCfg.ConnConfig.RuntimeParams["application_name"] = appName
		}
	}
	return pgxCfg, nil
}

// NewPool opens the identity store pool and pings it once.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, appName string, logger *zap.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pgxCfg, err := PoolConfig(cfg, appName)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres at %s: %w", pgxCfg.ConnConfig.Host, err)
	}

	logger.Info("connected to postgres",
		zap.String("host", pgxCfg.ConnConfig.Host),
		zap.String("db", pgxCfg.ConnConfig.Database),
		zap.Int32("max_conns", pgxCfg.MaxConns))
	return pool, nil
}
