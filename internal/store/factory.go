package store

import (
	"context"
	"errors"
	"strings"

	"github.com/kiranshivaraju/jobledger/internal/config"
)

// Open selects a store implementation based on the database URL.
// Supported:
//   - postgres: URL starting with "postgres://" or "postgresql://"
//   - sqlite:   "sqlite:///<path>", or ":memory:" for an in-memory database
func Open(ctx context.Context, cfg config.DatabaseConfig, lifecycle config.LifecycleConfig) (Store, error) {
	dsn := strings.TrimSpace(cfg.URL)
	lower := strings.ToLower(dsn)
	switch {
	case dsn == "":
		return nil, errors.New("empty database URL")
	case strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://"):
		pool, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool, WithLockTimeout(lifecycle.LockTimeout)), nil
	case strings.HasPrefix(lower, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	case dsn == ":memory:":
		return NewSQLiteStore(ctx, dsn)
	default:
		return nil, errors.New("unsupported database URL: want postgres://, postgresql://, sqlite:// or :memory:")
	}
}

// IsPostgres reports whether url selects the PostgreSQL gateway.
func IsPostgres(url string) bool {
	lower := strings.ToLower(strings.TrimSpace(url))
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}
