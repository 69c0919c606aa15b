// Package database connects to the engine database that stores telemetry.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/config"
)

const (
	defaultMaxConns = 10
	connMaxLifetime = time.Hour
	connMaxIdleTime = 30 * time.Minute
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Open connects to the engine database described by cfg and applies any
// pending migrations before returning.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := Connect(ctx, cfg.ConnectionString(), cfg.MaxConnections, cfg.MaxIdleConns)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(logger); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Connected to engine database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))
	return db, nil
}

// Connect creates a pool for connString and verifies it with a ping.
// maxConns of zero selects the default pool size.
func Connect(ctx context.Context, connString string, maxConns, minConns int32) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = maxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = defaultMaxConns
	}
	if minConns > 0 && minConns <= poolConfig.MaxConns {
		poolConfig.MinConns = minConns
	}
	poolConfig.MaxConnLifetime = connMaxLifetime
	poolConfig.MaxConnIdleTime = connMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
