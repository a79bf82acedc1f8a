package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pingTimeout       = 5 * time.Second
	healthCheckPeriod = 30 * time.Second
	maxConnIdleTime   = 5 * time.Minute
)

// NotifyChannelSetting is the session setting the row-change trigger reads
// to choose its NOTIFY channel. Sessions without it notify on row_changes.
const NotifyChannelSetting = "app.notify_channel"

// Option adjusts the parsed pool config before connecting.
type Option func(*pgxpool.Config)

// WithNotifyChannel makes rows written through the pool notify on channel.
func WithNotifyChannel(channel string) Option {
	return func(c *pgxpool.Config) {
		if channel != "" {
			c.ConnConfig.RuntimeParams[NotifyChannelSetting] = channel
		}
	}
}

// NewPool opens a pgx pool and fails fast when the database is unreachable.
// Connections identify themselves as "homekeep" in pg_stat_activity.
func NewPool(ctx context.Context, dsn string, maxConns, minConns int32, maxConnLife time.Duration, opts ...Option) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 && minConns <= cfg.MaxConns {
		cfg.MinConns = minConns
	}
	if maxConnLife > 0 {
		cfg.MaxConnLifetime = maxConnLife
	}
	cfg.MaxConnIdleTime = maxConnIdleTime
	cfg.HealthCheckPeriod = healthCheckPeriod
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = "homekeep"
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.ConnConfig.Host, err)
	}
	return pool, nil
}
