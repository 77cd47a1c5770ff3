// Package postgres implements the metadata registry using PostgreSQL
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mbrennan/carton"
)

type registry struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewRegistry creates a registry backed by pool, storing records in
// tableName. The caller is responsible for having validated the table name.
func NewRegistry(pool *pgxpool.Pool, tableName string) (carton.MetadataRegistry, error) {
	if pool == nil {
		return nil, errors.New("new postgres registry: pool cannot be nil")
	}
	if tableName == "" {
		return nil, errors.New("new postgres registry: table name cannot be empty")
	}
	return &registry{pool: pool, tableName: tableName}, nil
}

func (r *registry) quotedTable() string {
	return pgx.Identifier{r.tableName}.Sanitize()
}

// Register upserts the record keyed on (bucket, object_key, version), so
// retries after a transient failure are safe.
func (r *registry) Register(ctx context.Context, rec carton.ObjectRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (bucket, object_key, version, checksum, size_bytes, content_type, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bucket, object_key, version) DO UPDATE SET
			checksum = EXCLUDED.checksum,
			size_bytes = EXCLUDED.size_bytes,
			content_type = EXCLUDED.content_type,
			committed_at = EXCLUDED.committed_at`, r.quotedTable())

	_, err := r.pool.Exec(ctx, query,
		rec.Bucket, rec.Key, rec.Version, rec.Checksum, rec.SizeBytes, rec.ContentType, rec.CommittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func (r *registry) Get(ctx context.Context, bucket, key, version string) (carton.ObjectRecord, error) {
	query := fmt.Sprintf(`
		SELECT bucket, object_key, version, checksum, size_bytes, content_type, committed_at
		FROM %s
		WHERE bucket = $1 AND object_key = $2 AND version = $3`, r.quotedTable())

	var rec carton.ObjectRecord
	err := r.pool.QueryRow(ctx, query, bucket, key, version).Scan(
		&rec.Bucket, &rec.Key, &rec.Version, &rec.Checksum, &rec.SizeBytes, &rec.ContentType, &rec.CommittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return carton.ObjectRecord{}, carton.ErrNotFound
		}
		return carton.ObjectRecord{}, fmt.Errorf("get: %w", err)
	}

	return rec, nil
}

func (r *registry) List(ctx context.Context, bucket string) ([]carton.ObjectRecord, error) {
	query := fmt.Sprintf(`
		SELECT bucket, object_key, version, checksum, size_bytes, content_type, committed_at
		FROM %s
		WHERE bucket = $1
		ORDER BY object_key, committed_at`, r.quotedTable())

	rows, err := r.pool.Query(ctx, query, bucket)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	records := []carton.ObjectRecord{}
	for rows.Next() {
		var rec carton.ObjectRecord
		if err := rows.Scan(&rec.Bucket, &rec.Key, &rec.Version, &rec.Checksum, &rec.SizeBytes, &rec.ContentType, &rec.CommittedAt); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	return records, nil
}

func (r *registry) Delete(ctx context.Context, bucket, key, version string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE bucket = $1 AND object_key = $2 AND version = $3`, r.quotedTable())

	tag, err := r.pool.Exec(ctx, query, bucket, key, version)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return carton.ErrNotFound
	}

	return nil
}
