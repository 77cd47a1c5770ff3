// Package sqlite implements the metadata registry using SQLite
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mbrennan/carton"
)

type registry struct {
	db        *sql.DB
	tableName string
}

// NewRegistry creates a registry backed by db, storing records in tableName.
// The caller is responsible for having validated the table name.
func NewRegistry(db *sql.DB, tableName string) (carton.MetadataRegistry, error) {
	if db == nil {
		return nil, errors.New("new sqlite registry: db cannot be nil")
	}
	if tableName == "" {
		return nil, errors.New("new sqlite registry: table name cannot be empty")
	}
	return &registry{db: db, tableName: tableName}, nil
}

// Register upserts the record keyed on (bucket, object_key, version), so
// retries after a transient failure are safe.
func (r *registry) Register(ctx context.Context, rec carton.ObjectRecord) error {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`INSERT INTO %s (bucket, object_key, version, checksum, size_bytes, content_type, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, object_key, version) DO UPDATE SET
			checksum = excluded.checksum,
			size_bytes = excluded.size_bytes,
			content_type = excluded.content_type,
			committed_at = excluded.committed_at`, r.tableName)

	committedAt := rec.CommittedAt.UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, query,
		rec.Bucket, rec.Key, rec.Version, rec.Checksum, rec.SizeBytes, rec.ContentType, committedAt,
	)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func (r *registry) Get(ctx context.Context, bucket, key, version string) (carton.ObjectRecord, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT bucket, object_key, version, checksum, size_bytes, content_type, committed_at
		FROM %s
		WHERE bucket = ? AND object_key = ? AND version = ?`, r.tableName)

	var rec carton.ObjectRecord
	var committedAt string

	err := r.db.QueryRowContext(ctx, query, bucket, key, version).Scan(
		&rec.Bucket, &rec.Key, &rec.Version, &rec.Checksum, &rec.SizeBytes, &rec.ContentType, &committedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return carton.ObjectRecord{}, carton.ErrNotFound
		}
		return carton.ObjectRecord{}, fmt.Errorf("get: %w", err)
	}

	rec.CommittedAt, err = time.Parse(time.RFC3339Nano, committedAt)
	if err != nil {
		return carton.ObjectRecord{}, fmt.Errorf("get: parse committed_at: %w", err)
	}

	return rec, nil
}

func (r *registry) List(ctx context.Context, bucket string) ([]carton.ObjectRecord, error) {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`SELECT bucket, object_key, version, checksum, size_bytes, content_type, committed_at
		FROM %s
		WHERE bucket = ?
		ORDER BY object_key, committed_at`, r.tableName)

	rows, err := r.db.QueryContext(ctx, query, bucket)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	records := []carton.ObjectRecord{}
	for rows.Next() {
		var rec carton.ObjectRecord
		var committedAt string
		if err := rows.Scan(&rec.Bucket, &rec.Key, &rec.Version, &rec.Checksum, &rec.SizeBytes, &rec.ContentType, &committedAt); err != nil {
			return nil, fmt.Errorf("list: %w", err)
		}
		rec.CommittedAt, err = time.Parse(time.RFC3339Nano, committedAt)
		if err != nil {
			return nil, fmt.Errorf("list: parse committed_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	return records, nil
}

func (r *registry) Delete(ctx context.Context, bucket, key, version string) error {
	query := fmt.Sprintf( //nolint:gosec // G201: table name is validated
		`DELETE FROM %s WHERE bucket = ? AND object_key = ? AND version = ?`, r.tableName)

	result, err := r.db.ExecContext(ctx, query, bucket, key, version)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if affected == 0 {
		return carton.ErrNotFound
	}

	return nil
}
