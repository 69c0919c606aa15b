package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/retry"
)

// Adapter provides Oracle connectivity, metadata lookup and bounded queries
// over a single database/sql pool.
type Adapter struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

var _ datasource.Datasource = (*Adapter)(nil)

// NewAdapter opens a pool to Oracle and verifies it with a ping, retrying
// transient listener errors.
func NewAdapter(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("oracle", cfg.ConnectionURL())
	if err != nil {
		return nil, fmt.Errorf("open oracle: %w", err)
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
		db.SetMaxIdleConns(cfg.PoolSize)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	err = retry.DoIfRetryable(ctx, retry.DefaultConfig(), func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	logger.Named("oracle").Info("Connected to Oracle",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("service", cfg.Service),
		zap.String("owner", cfg.Owner))

	return &Adapter{config: cfg, db: db, logger: logger.Named("oracle")}, nil
}

// NewAdapterFromDB wraps an existing pool. Used by tests.
func NewAdapterFromDB(db *sql.DB, cfg *Config, logger *zap.Logger) *Adapter {
	if cfg == nil {
		cfg = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{config: cfg, db: db, logger: logger.Named("oracle")}
}

// TestConnection verifies the database is reachable.
func (a *Adapter) TestConnection(ctx context.Context) error {
	var one int
	if err := a.db.QueryRowContext(ctx, "SELECT 1 FROM DUAL").Scan(&one); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// DB returns the underlying pool.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Close releases the pool.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
