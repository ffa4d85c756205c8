package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mytaifex/taifex-pipeline/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rawLakeRepository struct {
	pool *pgxpool.Pool
}

// NewRawLakeRepository wires a raw lake backed by the raw_lake table.
func NewRawLakeRepository(pool *pgxpool.Pool) RawLakeRepository {
	return &rawLakeRepository{pool: pool}
}

func (r *rawLakeRepository) Put(ctx context.Context, content []byte) (string, error) {
	if r.pool == nil {
		return "", fmt.Errorf("raw lake repository not initialized")
	}

	hash := domain.ContentHash(content)
	// ON CONFLICT DO NOTHING keeps identical bytes from ever producing two
	// rows; the insert is transactional, so a crash mid-write leaves nothing
	// retrievable under the hash.
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO raw_lake (content_hash, raw_content)
		 VALUES ($1, $2)
		 ON CONFLICT (content_hash) DO NOTHING`,
		hash,
		content,
	)
	if err != nil {
		return "", fmt.Errorf("failed to store raw content %s: %w", hash, err)
	}
	return hash, nil
}

func (r *rawLakeRepository) Get(ctx context.Context, contentHash string) ([]byte, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("raw lake repository not initialized")
	}

	var content []byte
	err := r.pool.QueryRow(
		ctx,
		`SELECT raw_content FROM raw_lake WHERE content_hash = $1`,
		contentHash,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("raw content %s: %w", contentHash, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch raw content %s: %w", contentHash, err)
	}
	return content, nil
}

func (r *rawLakeRepository) Has(ctx context.Context, contentHash string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("raw lake repository not initialized")
	}

	var exists bool
	err := r.pool.QueryRow(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM raw_lake WHERE content_hash = $1)`,
		contentHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check raw content %s: %w", contentHash, err)
	}
	return exists, nil
}
