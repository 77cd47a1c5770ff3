package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// quoteIdentifier safely quotes a SQLite identifier
func quoteIdentifier(name string) string {
	return `"` + name + `"`
}

// Migrate creates the object record table if it does not exist.
func Migrate(ctx context.Context, db *sql.DB, tableName string) error {
	quoted := quoteIdentifier(tableName)
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			bucket TEXT NOT NULL,
			object_key TEXT NOT NULL,
			version TEXT NOT NULL,
			checksum TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			content_type TEXT NOT NULL,
			committed_at TEXT NOT NULL,
			PRIMARY KEY (bucket, object_key, version)
		);

		CREATE INDEX IF NOT EXISTS %s
		ON %s (bucket, object_key);
	`,
		quoted,
		quoteIdentifier(fmt.Sprintf("idx_%s_bucket_key", tableName)),
		quoted,
	)

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create object record table: %w", err)
	}
	return nil
}

// DropTable removes the object record table. Intended for tests.
func DropTable(ctx context.Context, db *sql.DB, tableName string) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop object record table: %w", err)
	}
	return nil
}
