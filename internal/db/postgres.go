package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxOpenConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	pingTimeout            = 5 * time.Second
)

// PoolLimits tunes the shared connection pool for the primary database,
// which holds exams, questions and finalized attempt records. Zero or
// negative fields fall back to the defaults above, so callers only set
// what they actually configure.
type PoolLimits struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (l PoolLimits) withDefaults() PoolLimits {
	if l.MaxOpenConns <= 0 {
		l.MaxOpenConns = defaultMaxOpenConns
	}
	if l.MaxIdleConns <= 0 {
		l.MaxIdleConns = l.MaxOpenConns
	}
	if l.ConnMaxLifetime <= 0 {
		l.ConnMaxLifetime = defaultConnMaxLifetime
	}
	return l
}

// OpenPostgres opens the primary database with default pool limits.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	return OpenPostgresPool(ctx, dsn, PoolLimits{})
}

// OpenPostgresPool opens the primary database with explicit pool
// limits and verifies the connection with a bounded ping before
// handing it out.
func OpenPostgresPool(ctx context.Context, dsn string, limits PoolLimits) (*sql.DB, error) {
	pool, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	limits = limits.withDefaults()
	pool.SetMaxOpenConns(limits.MaxOpenConns)
	pool.SetMaxIdleConns(limits.MaxIdleConns)
	pool.SetConnMaxLifetime(limits.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
