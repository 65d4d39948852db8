// Package postgres stores the presence journal in PostgreSQL using pgx v5 and
// owns the journal schema migrations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomsync/internal/config"
)

// Pool wraps a pgx connection pool.
type Pool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Total    int32 `json:"total"`
	Acquired int32 `json:"acquired"`
	Idle     int32 `json:"idle"`
}

// NewPool connects to the database described by cfg and verifies it responds.
//
// Precondition: cfg must pass Validate with Enabled set.
// Postcondition: Returns a connected Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	start := time.Now()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info("database connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Pool{pool: pool, logger: logger}, nil
}

// Health pings the database within timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Stats returns current pool usage.
func (p *Pool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		Total:    s.TotalConns(),
		Acquired: s.AcquiredConns(),
		Idle:     s.IdleConns(),
	}
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.pool.Close()
	p.logger.Info("database pool closed")
}

// DB returns the underlying pgxpool.Pool for repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
