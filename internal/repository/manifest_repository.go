package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mytaifex/taifex-pipeline/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type manifestRepository struct {
	pool *pgxpool.Pool
}

// NewManifestRepository wires a manifest backed by the file_manifest table.
func NewManifestRepository(pool *pgxpool.Pool) ManifestRepository {
	return &manifestRepository{pool: pool}
}

func (r *manifestRepository) RegisterIfNew(ctx context.Context, fileHash, originalPath string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("manifest repository not initialized")
	}

	tag, err := r.pool.Exec(
		ctx,
		`INSERT INTO file_manifest (file_hash, original_file_path, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (file_hash) DO NOTHING`,
		fileHash,
		originalPath,
		domain.StatusRawIngested,
	)
	if err != nil {
		return false, fmt.Errorf("failed to register file %s: %w", fileHash, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *manifestRepository) Get(ctx context.Context, fileHash string) (domain.ManifestEntry, error) {
	if r.pool == nil {
		return domain.ManifestEntry{}, fmt.Errorf("manifest repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT file_hash, original_file_path, status, fingerprint_hash,
		        ingestion_timestamp, transformation_timestamp, target_table_name,
		        processed_row_count, error_message, pipeline_execution_id
		 FROM file_manifest
		 WHERE file_hash = $1`,
		fileHash,
	)

	entry, err := scanManifestEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ManifestEntry{}, fmt.Errorf("manifest entry %s: %w", fileHash, ErrNotFound)
		}
		return domain.ManifestEntry{}, fmt.Errorf("failed to fetch manifest entry %s: %w", fileHash, err)
	}
	return entry, nil
}

func (r *manifestRepository) QueryByStatus(ctx context.Context, status domain.FileStatus) ([]domain.ManifestEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("manifest repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT file_hash, original_file_path, status, fingerprint_hash,
		        ingestion_timestamp, transformation_timestamp, target_table_name,
		        processed_row_count, error_message, pipeline_execution_id
		 FROM file_manifest
		 WHERE status = $1
		 ORDER BY ingestion_timestamp`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query manifest by status %s: %w", status, err)
	}
	defer rows.Close()

	entries := []domain.ManifestEntry{}
	for rows.Next() {
		entry, scanErr := scanManifestEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan manifest entry: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate manifest entries: %w", rowsErr)
	}
	return entries, nil
}

// UpdateStatus is a single UPDATE, so the status and its metadata land
// atomically and concurrent attempts on the same file_hash serialize at the
// row level. The WHERE clause restricts the current status to the legal
// transition sources for the target, so a terminal row cannot be rewritten.
// Zero affected rows surfaces as an error rather than a silent success.
func (r *manifestRepository) UpdateStatus(ctx context.Context, fileHash string, status domain.FileStatus, update domain.StatusUpdate) error {
	if r.pool == nil {
		return fmt.Errorf("manifest repository not initialized")
	}
	if !status.Valid() {
		return fmt.Errorf("invalid manifest status %q", status)
	}

	var rowCount any
	if update.ProcessedRowCount != nil {
		rowCount = *update.ProcessedRowCount
	}
	var executionID any
	if update.ExecutionID != uuid.Nil {
		executionID = update.ExecutionID
	}
	sources := domain.TransitionSources(status)
	allowedFrom := make([]string, len(sources))
	for i, source := range sources {
		allowedFrom[i] = string(source)
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE file_manifest
		 SET status = $2,
		     fingerprint_hash = NULLIF($3, ''),
		     transformation_timestamp = now(),
		     target_table_name = NULLIF($4, ''),
		     processed_row_count = $5,
		     error_message = NULLIF($6, ''),
		     pipeline_execution_id = $7
		 WHERE file_hash = $1 AND status = ANY($8)`,
		fileHash,
		status,
		update.FingerprintHash,
		update.TargetTable,
		rowCount,
		update.ErrorMessage,
		executionID,
		allowedFrom,
	)
	if err != nil {
		return fmt.Errorf("failed to update manifest entry %s: %w", fileHash, err)
	}
	if tag.RowsAffected() == 0 {
		entry, getErr := r.Get(ctx, fileHash)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("manifest entry %s: illegal transition %s -> %s", fileHash, entry.Status, status)
	}
	return nil
}

func scanManifestEntry(row pgx.Row) (domain.ManifestEntry, error) {
	var (
		entry         domain.ManifestEntry
		status        string
		fingerprint   pgtype.Text
		ingestedAt    pgtype.Timestamptz
		transformedAt pgtype.Timestamptz
		targetTable   pgtype.Text
		processedRows pgtype.Int4
		errorMessage  pgtype.Text
		executionID   pgtype.UUID
	)

	if err := row.Scan(
		&entry.FileHash,
		&entry.OriginalFilePath,
		&status,
		&fingerprint,
		&ingestedAt,
		&transformedAt,
		&targetTable,
		&processedRows,
		&errorMessage,
		&executionID,
	); err != nil {
		return domain.ManifestEntry{}, err
	}

	entry.Status = domain.FileStatus(status)
	if fingerprint.Valid {
		entry.FingerprintHash = &fingerprint.String
	}
	if ingestedAt.Valid {
		entry.IngestionTimestamp = ingestedAt.Time
	}
	if transformedAt.Valid {
		entry.TransformationTimestamp = &transformedAt.Time
	}
	if targetTable.Valid {
		entry.TargetTableName = &targetTable.String
	}
	if processedRows.Valid {
		value := int(processedRows.Int32)
		entry.ProcessedRowCount = &value
	}
	if errorMessage.Valid {
		entry.ErrorMessage = &errorMessage.String
	}
	if executionID.Valid {
		id := uuid.UUID(executionID.Bytes)
		entry.PipelineExecutionID = &id
	}
	return entry, nil
}
