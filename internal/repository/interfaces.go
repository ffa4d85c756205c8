package repository

import (
	"context"
	"errors"

	"github.com/mytaifex/taifex-pipeline/internal/domain"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// TxRunner executes a function inside a database transaction, committing on
// nil and rolling back on error. *db.Connection satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

// RawLakeRepository is the content-addressed store of original file bytes.
// Append-only: no update or delete is exposed.
type RawLakeRepository interface {
	// Put stores the content under its SHA-256 hash and returns the hash.
	// Storing already-present content is a no-op, not an error.
	Put(ctx context.Context, content []byte) (string, error)
	// Get returns the raw bytes for a hash, or ErrNotFound.
	Get(ctx context.Context, contentHash string) ([]byte, error)
	// Has reports whether content with this hash is stored.
	Has(ctx context.Context, contentHash string) (bool, error)
}

// ManifestRepository is the durable state machine tracking every file's
// lifecycle. One row per unique file content; rows are never deleted.
type ManifestRepository interface {
	// RegisterIfNew inserts a RAW_INGESTED entry and reports whether the
	// hash was new. Duplicates are the common case on rescans and must not
	// error.
	RegisterIfNew(ctx context.Context, fileHash, originalPath string) (bool, error)
	// Get returns the entry for a file hash, or ErrNotFound.
	Get(ctx context.Context, fileHash string) (domain.ManifestEntry, error)
	// QueryByStatus returns all entries at the given status, oldest first.
	QueryByStatus(ctx context.Context, status domain.FileStatus) ([]domain.ManifestEntry, error)
	// UpdateStatus transitions one file's status and persists the update
	// metadata in the same statement. Transitions the state machine forbids
	// (FileStatus.CanTransitionTo) are rejected, and a write that affects no
	// row is an error; callers rely on this to detect lost manifest updates.
	UpdateStatus(ctx context.Context, fileHash string, status domain.FileStatus, update domain.StatusUpdate) error
}

// CuratedStore receives cleaned rows. Tables are created on first use from
// the recipe's declared columns and unique key.
type CuratedStore interface {
	// Upsert writes rows into targetTable inside one transaction, resolving
	// conflicts on uniqueKey so repeated loads of the same content converge
	// to the same end state. Returns the number of rows written.
	Upsert(ctx context.Context, targetTable string, columns []string, uniqueKey []string, rows [][]string) (int, error)
}
