// Package metadata connects the engine to its bookkeeping registry. The
// registry is a thin, idempotent record store over (bucket, key, version);
// the engine registers commits with it after the bytes are durable and never
// treats a registry failure as grounds to undo a commit.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mbrennan/carton"
	"github.com/mbrennan/carton/metadata/postgres"
	"github.com/mbrennan/carton/metadata/sqlite"

	_ "modernc.org/sqlite" // SQLite driver
)

// Config holds the configuration for connecting to a registry backend.
type Config struct {
	// Type specifies the backend type: "sqlite" or "postgres"
	Type string `mapstructure:"type" validate:"omitempty,oneof=sqlite postgres"`
	// DSN is the data source name (connection string)
	DSN string `mapstructure:"dsn"`
	// Table is the name of the object record table
	Table string `mapstructure:"table"`
}

var validTableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsValidTableName checks if a table name is valid (lowercase, alphanumeric
// with underscores, max 63 chars).
func IsValidTableName(name string) bool {
	return validTableNameRegex.MatchString(name) && len(name) <= 63
}

// Connect establishes a connection to the configured backend, runs
// migrations, and returns a registry. The returned cleanup function should
// be called to close the connection.
func Connect(ctx context.Context, cfg Config) (carton.MetadataRegistry, func(), error) {
	if cfg.Table == "" {
		return nil, nil, errors.New("metadata table name cannot be empty")
	}
	if !IsValidTableName(cfg.Table) {
		return nil, nil, fmt.Errorf("invalid metadata table name: %s (must match ^[a-z_][a-z0-9_]*$ and be <= 63 chars)", cfg.Table)
	}

	switch cfg.Type {
	case "sqlite":
		return connectSQLite(ctx, cfg.DSN, cfg.Table)
	case "postgres":
		return connectPostgres(ctx, cfg.DSN, cfg.Table)
	default:
		return nil, nil, fmt.Errorf("unsupported metadata backend type: %s", cfg.Type)
	}
}

func connectSQLite(ctx context.Context, dsn, table string) (carton.MetadataRegistry, func(), error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err = sqlite.Migrate(ctx, db, table); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	repo, err := sqlite.NewRegistry(db, table)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create sqlite registry: %w", err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return repo, cleanup, nil
}

func connectPostgres(ctx context.Context, dsn, table string) (carton.MetadataRegistry, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err = postgres.Migrate(ctx, pool, table); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	repo, err := postgres.NewRegistry(pool, table)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("create postgres registry: %w", err)
	}

	return repo, pool.Close, nil
}
