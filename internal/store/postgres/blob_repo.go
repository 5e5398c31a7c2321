package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

type BlobRepo struct {
	db *DB
}

func NewBlobRepo(db *DB) *BlobRepo {
	return &BlobRepo{db: db}
}

// EnsureSchema creates the blob table when missing. Idempotent.
func (r *BlobRepo) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tuning_blobs (
			addr       BIGINT PRIMARY KEY,
			data       BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure tuning_blobs schema: %w", err)
	}
	return nil
}

func (r *BlobRepo) Read(ctx context.Context, addr uint32) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var data []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM tuning_blobs WHERE addr = $1
	`, int64(addr)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %d: %w", addr, err)
	}
	return data, nil
}

func (r *BlobRepo) Write(ctx context.Context, addr uint32, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tuning_blobs (addr, data)
		VALUES ($1, $2)
		ON CONFLICT (addr) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = now()
	`, int64(addr), data)
	if err != nil {
		return fmt.Errorf("write blob %d: %w", addr, err)
	}
	return nil
}
