package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/shoptk/backend-shoptk/internal/config"
	"github.com/shoptk/backend-shoptk/internal/obs"
)

// Dependencies bundles the process-wide clients shared by the API and the
// worker binaries.
type Dependencies struct {
	Cfg    *config.Config
	Logger zerolog.Logger
	Pool   *pgxpool.Pool
	Redis  *redis.Client
}

// Build connects the shared infrastructure clients.
func Build(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Warn().Err(err).Msg("redis tracing instrumentation")
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Dependencies{Cfg: cfg, Logger: logger, Pool: pool, Redis: rdb}, nil
}

// Close releases the shared clients.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn().Err(err).Msg("close redis")
		}
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}
