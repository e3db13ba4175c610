package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"fundingcalc/internal/config"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open builds the backend selected by database.driver. It returns (nil, nil) when the
// selected driver has nothing to connect to, meaning the caller runs without a cache.
func Open(ctx context.Context, db config.DatabaseConfig, rds config.RedisConfig) (Backend, error) {
	switch db.Driver {
	case config.DriverPostgres, "":
		if db.DSN == "" {
			return nil, nil
		}
		pool, err := NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		if err := ApplyMigrations(pool, db.MigrationsPath); err != nil {
			pool.Close()
			return nil, err
		}
		return NewStore(pool), nil
	case config.DriverSQLite:
		if db.DSN == "" {
			return nil, nil
		}
		store, err := OpenGormStore(db)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverRedis:
		if rds.Addr == "" {
			return nil, nil
		}
		store, err := OpenRedisStore(ctx, rds)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}
