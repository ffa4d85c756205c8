package repository

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mytaifex/taifex-pipeline/internal/domain"

	"github.com/jackc/pgx/v5"
)

var curatedIdentifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type curatedStoreRepository struct {
	runner TxRunner
}

// NewCuratedStore wires the curated store over a transaction runner. Target
// tables are created lazily on first successful transformation of their format.
func NewCuratedStore(runner TxRunner) CuratedStore {
	return &curatedStoreRepository{runner: runner}
}

// Upsert runs ensure-table plus all row writes in one transaction: a failed
// attempt leaves the curated store unchanged for that file. Conflicts resolve
// on the unique key with DO UPDATE, never delete+insert, so retried and
// overlapping attempts stay safe.
func (r *curatedStoreRepository) Upsert(ctx context.Context, targetTable string, columns []string, uniqueKey []string, rows [][]string) (int, error) {
	if r.runner == nil {
		return 0, fmt.Errorf("curated store not initialized")
	}

	normalizedColumns, err := normalizeIdentifiers(columns)
	if err != nil {
		return 0, fmt.Errorf("target table %s: %w", targetTable, err)
	}
	normalizedKey, err := normalizeIdentifiers(uniqueKey)
	if err != nil {
		return 0, fmt.Errorf("target table %s: %w", targetTable, err)
	}
	if !curatedIdentifierPattern.MatchString(targetTable) {
		return 0, fmt.Errorf("invalid target table name %q", targetTable)
	}
	if len(normalizedKey) == 0 {
		return 0, fmt.Errorf("target table %s: unique key is required", targetTable)
	}
	columnSet := make(map[string]bool, len(normalizedColumns))
	for _, column := range normalizedColumns {
		columnSet[column] = true
	}
	for _, key := range normalizedKey {
		if !columnSet[key] {
			return 0, fmt.Errorf("target table %s: unique key column %s not in row columns", targetTable, key)
		}
	}

	// One statement per row: a multi-row VALUES upsert fails outright when
	// the batch itself contains duplicate keys, while per-row statements let
	// the later row win, matching reprocessing semantics.
	upsertSQL := buildUpsertSQL(targetTable, normalizedColumns, normalizedKey)
	batch := &pgx.Batch{}
	for _, row := range rows {
		if len(row) != len(normalizedColumns) {
			return 0, fmt.Errorf("target table %s: row has %d cells, expected %d", targetTable, len(row), len(normalizedColumns))
		}
		args := make([]any, len(row))
		for i, cell := range row {
			args[i] = cell
		}
		batch.Queue(upsertSQL, args...)
	}

	err = r.runner.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, buildCreateTableSQL(targetTable, normalizedColumns, normalizedKey)); err != nil {
			return fmt.Errorf("failed to ensure table %s: %w", targetTable, err)
		}

		results := tx.SendBatch(ctx, batch)
		var batchErr error
		for range rows {
			if _, err := results.Exec(); err != nil && batchErr == nil {
				batchErr = err
			}
		}
		if closeErr := results.Close(); closeErr != nil && batchErr == nil {
			batchErr = closeErr
		}
		if batchErr != nil {
			return fmt.Errorf("failed to upsert into %s: %w", targetTable, batchErr)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func normalizeIdentifiers(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		normalized := domain.NormalizeColumn(name)
		if !curatedIdentifierPattern.MatchString(normalized) {
			return nil, fmt.Errorf("invalid column name %q", name)
		}
		out[i] = normalized
	}
	return out, nil
}

func buildCreateTableSQL(table string, columns, uniqueKey []string) string {
	defs := make([]string, 0, len(columns)+1)
	for _, column := range columns {
		defs = append(defs, fmt.Sprintf("%s TEXT", column))
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(uniqueKey, ", ")))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
}

func buildUpsertSQL(table string, columns, uniqueKey []string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	keySet := make(map[string]bool, len(uniqueKey))
	for _, key := range uniqueKey {
		keySet[key] = true
	}
	var assignments []string
	for _, column := range columns {
		if keySet[column] {
			continue
		}
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", column, column))
	}

	conflictAction := "DO NOTHING"
	if len(assignments) > 0 {
		conflictAction = fmt.Sprintf("DO UPDATE SET %s", strings.Join(assignments, ", "))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(uniqueKey, ", "),
		conflictAction,
	)
}
