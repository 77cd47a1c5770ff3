package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the object record table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool, tableName string) error {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	indexBucketKey := pgx.Identifier{fmt.Sprintf("idx_%s_bucket_key", tableName)}.Sanitize()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			bucket TEXT NOT NULL,
			object_key TEXT NOT NULL,
			version TEXT NOT NULL,
			checksum TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			content_type TEXT NOT NULL,
			committed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (bucket, object_key, version)
		);

		CREATE INDEX IF NOT EXISTS %s
		ON %s (bucket, object_key);
	`,
		quotedTable,
		indexBucketKey, quotedTable,
	)

	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create object record table: %w", err)
	}
	return nil
}

// DropTable removes the object record table. Intended for tests.
func DropTable(ctx context.Context, pool *pgxpool.Pool, tableName string) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pgx.Identifier{tableName}.Sanitize())
	if _, err := pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("drop object record table: %w", err)
	}
	return nil
}
