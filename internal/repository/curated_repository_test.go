package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// stubTxRunner stands in for db.Connection, handing the callback a recording
// transaction.
type stubTxRunner struct {
	tx    *stubTx
	err   error
	calls int
}

func (r *stubTxRunner) WithTx(_ context.Context, fn func(pgx.Tx) error) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	return fn(r.tx)
}

type stubTx struct {
	execSQL []string
	batches []*pgx.Batch
	execErr error
}

func (s *stubTx) Begin(_ context.Context) (pgx.Tx, error) { return s, nil }
func (s *stubTx) Commit(_ context.Context) error          { return nil }
func (s *stubTx) Rollback(_ context.Context) error        { return nil }
func (s *stubTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (s *stubTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	s.batches = append(s.batches, b)
	return &stubBatchResults{}
}
func (s *stubTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }
func (s *stubTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (s *stubTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.execSQL = append(s.execSQL, sql)
	return pgconn.CommandTag{}, s.execErr
}
func (s *stubTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return nil, nil }
func (s *stubTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row        { return nil }
func (s *stubTx) Conn() *pgx.Conn                                               { return nil }

type stubBatchResults struct{}

func (r *stubBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, nil }
func (r *stubBatchResults) Query() (pgx.Rows, error)         { return nil, nil }
func (r *stubBatchResults) QueryRow() pgx.Row                { return nil }
func (r *stubBatchResults) Close() error                     { return nil }

func TestUpsertRunsInsideTransaction(t *testing.T) {
	tx := &stubTx{}
	runner := &stubTxRunner{tx: tx}
	store := NewCuratedStore(runner)

	count, err := store.Upsert(context.Background(), "fact_quotes",
		[]string{"trade_date", "contract", "close"},
		[]string{"trade_date", "contract"},
		[][]string{
			{"2024-01-02", "TX", "17500"},
			{"2024-01-03", "TX", "17600"},
		},
	)
	if err != nil {
		t.Fatalf("upsert returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows written, got %d", count)
	}
	if runner.calls != 1 {
		t.Fatalf("expected one transaction, got %d", runner.calls)
	}
	if len(tx.execSQL) != 1 || !strings.HasPrefix(tx.execSQL[0], "CREATE TABLE IF NOT EXISTS fact_quotes") {
		t.Fatalf("expected ensure-table inside the transaction, got %v", tx.execSQL)
	}
	if len(tx.batches) != 1 || tx.batches[0].Len() != 2 {
		t.Fatalf("expected one batch with 2 upserts, got %v", tx.batches)
	}
}

func TestUpsertValidationFailsBeforeTransaction(t *testing.T) {
	runner := &stubTxRunner{tx: &stubTx{}}
	store := NewCuratedStore(runner)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, "fact_quotes", []string{"close"}, []string{"trade_date"}, nil); err == nil {
		t.Fatalf("expected error for key column missing from row columns")
	}
	if _, err := store.Upsert(ctx, "fact_quotes", []string{"trade_date"}, []string{"trade_date"},
		[][]string{{"2024-01-02", "extra"}}); err == nil {
		t.Fatalf("expected error for row width mismatch")
	}
	if runner.calls != 0 {
		t.Fatalf("validation failures must not open a transaction, got %d", runner.calls)
	}
}

func TestUpsertPropagatesTransactionError(t *testing.T) {
	runner := &stubTxRunner{tx: &stubTx{}, err: errors.New("failed to commit transaction")}
	store := NewCuratedStore(runner)

	count, err := store.Upsert(context.Background(), "fact_quotes",
		[]string{"trade_date"}, []string{"trade_date"}, [][]string{{"2024-01-02"}})
	if err == nil {
		t.Fatalf("expected transaction error to surface")
	}
	if count != 0 {
		t.Fatalf("failed upsert must report 0 rows, got %d", count)
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	sql := buildCreateTableSQL("fact_quotes", []string{"trade_date", "contract", "close"}, []string{"trade_date", "contract"})

	want := "CREATE TABLE IF NOT EXISTS fact_quotes (trade_date TEXT, contract TEXT, close TEXT, PRIMARY KEY (trade_date, contract))"
	if sql != want {
		t.Fatalf("unexpected create table sql:\n got %s\nwant %s", sql, want)
	}
}

func TestBuildUpsertSQLUpdatesNonKeyColumns(t *testing.T) {
	sql := buildUpsertSQL("fact_quotes", []string{"trade_date", "contract", "close"}, []string{"trade_date", "contract"})

	if !strings.Contains(sql, "ON CONFLICT (trade_date, contract) DO UPDATE SET close = EXCLUDED.close") {
		t.Fatalf("unexpected upsert sql: %s", sql)
	}
	if !strings.Contains(sql, "VALUES ($1, $2, $3)") {
		t.Fatalf("unexpected placeholders: %s", sql)
	}
}

func TestBuildUpsertSQLAllKeyColumns(t *testing.T) {
	sql := buildUpsertSQL("dim_contracts", []string{"contract"}, []string{"contract"})

	if !strings.Contains(sql, "DO NOTHING") {
		t.Fatalf("expected DO NOTHING when every column is part of the key: %s", sql)
	}
}

func TestNormalizeIdentifiersRejectsUnsafeNames(t *testing.T) {
	if _, err := normalizeIdentifiers([]string{"trade_date", "close; drop table x"}); err == nil {
		t.Fatalf("expected error for unsafe identifier")
	}
	if _, err := normalizeIdentifiers([]string{"1starts_with_digit"}); err == nil {
		t.Fatalf("expected error for identifier starting with digit")
	}

	out, err := normalizeIdentifiers([]string{" Trade_Date ", "CLOSE"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] != "trade_date" || out[1] != "close" {
		t.Fatalf("identifiers not normalized: %+v", out)
	}
}
