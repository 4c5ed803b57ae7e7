package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultRetryInterval  = 2 * time.Second
)

// Config describes the PostgreSQL pool and migration settings.
type Config struct {
	// URL is a pgx connection string, URL or DSN form.
	URL string `env:"DATABASE_URL,required"`

	PoolMaxConns      int32         `env:"PG_POOL_MAX_CONNS" envDefault:"10"`
	PoolMinConns      int32         `env:"PG_POOL_MIN_CONNS" envDefault:"2"`
	ConnMaxIdleTime   time.Duration `env:"PG_CONN_MAX_IDLE_TIME" envDefault:"10m"`
	ConnMaxLifetime   time.Duration `env:"PG_CONN_MAX_LIFETIME" envDefault:"30m"`
	HealthcheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`

	ConnectTimeout time.Duration `env:"PG_CONNECT_TIMEOUT" envDefault:"30s"`
	RetryInterval  time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"2s"`

	MigrationsDir   string `env:"PG_MIGRATIONS_DIR" envDefault:"internal/db/migrations"`
	MigrationsTable string `env:"PG_MIGRATIONS_TABLE" envDefault:"schema_migrations"`
}

// Connect opens a pool and verifies the database answers a ping, retrying
// every RetryInterval until ConnectTimeout expires. Ping catches auth and
// permission failures that lazy pool creation does not.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is empty", ErrInvalidConfig)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	poolCfg.MaxConns = cfg.PoolMaxConns
	poolCfg.MinConns = cfg.PoolMinConns
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthcheckPeriod

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	for {
		lastErr := pool.Ping(ctx)
		if lastErr == nil {
			return pool, nil
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, errors.Join(ErrUnavailable, lastErr)
		case <-time.After(cfg.RetryInterval):
		}
	}
}

// Healthcheck adapts a ping on pool to the probe shape the ops listener
// aggregates.
func Healthcheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheck, err)
		}
		return nil
	}
}
