package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var ErrInvalidPoolConfig = errors.New("invalid pool config")

// PoolConfig sizes the shared pgx pool. Durations are whole seconds so they map onto
// command line flags directly.
type PoolConfig struct {
	// ConnString is a postgres:// URL or key/value DSN.
	ConnString string

	// ApplicationName is reported in pg_stat_activity. Default: authdemo
	ApplicationName string

	// Default: 10
	MaxConns int32
	// Default: 1
	MinConns int32

	// Default: 3600
	MaxConnLifetime int32
	// Default: 1800
	MaxConnIdleTime int32
	// Default: 60
	HealthCheckPeriod int32
	// Default: 10
	ConnectTimeout int32

	// ConnectAttempts bounds the initial ping, the database may still be starting.
	// Default: 5
	ConnectAttempts uint
}

func (c *PoolConfig) Validate() error {
	if c.ConnString == "" {
		return fmt.Errorf("%w: connection string is required", ErrInvalidPoolConfig)
	}
	if c.MinConns < 0 || c.MaxConns < 0 {
		return fmt.Errorf("%w: connection counts must not be negative", ErrInvalidPoolConfig)
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("%w: min conns %d exceeds max conns %d", ErrInvalidPoolConfig, c.MinConns, c.MaxConns)
	}
	return nil
}

func (c *PoolConfig) ApplyDefaults() {
	if c.ApplicationName == "" {
		c.ApplicationName = "authdemo"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MinConns == 0 {
		c.MinConns = 1
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 3600
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = 1800
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = 60
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = 5
	}
}

func seconds(n int32) time.Duration {
	return time.Duration(n) * time.Second
}

// NewPool opens a pool and waits until the database answers a ping.
func NewPool(ctx context.Context, cfg *PoolConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrInvalidPoolConfig)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = seconds(cfg.MaxConnLifetime)
	poolConfig.MaxConnIdleTime = seconds(cfg.MaxConnIdleTime)
	poolConfig.HealthCheckPeriod = seconds(cfg.HealthCheckPeriod)
	poolConfig.ConnConfig.ConnectTimeout = seconds(cfg.ConnectTimeout)
	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	log := zerolog.Ctx(ctx)

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := pool.Ping(ctx); err != nil {
			log.Debug().Err(err).Msg("database not ready")
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(cfg.ConnectAttempts),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
