package transformation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mytaifex/taifex-pipeline/internal/catalog"
	"github.com/mytaifex/taifex-pipeline/internal/cleaner"
	"github.com/mytaifex/taifex-pipeline/internal/domain"
	"github.com/mytaifex/taifex-pipeline/internal/fingerprint"
	"github.com/mytaifex/taifex-pipeline/internal/repository"
)

const quotesCSV = "trade_date,contract,close,volume\n" +
	"2024-01-02,TX,17500,100\n" +
	"2024-01-03,TX,17600,120\n" +
	"2024-01-04,TX,17550,90\n" +
	"2024-01-05,TX,17700,140\n" +
	"2024-01-08,TX,17800,110\n"

func quotesFingerprint() string {
	return fingerprint.Compute([]string{"trade_date", "contract", "close", "volume"})
}

func quotesRecipe() domain.Recipe {
	return domain.Recipe{
		TargetTable:     "fact_quotes",
		ParserConfig:    domain.ParserConfig{Format: "csv"},
		CleanerFunction: "generic_trim",
		RequiredColumns: []string{"trade_date", "contract", "close", "volume"},
		UniqueKey:       []string{"trade_date", "contract"},
	}
}

type fixture struct {
	rawLake  *repository.MemoryRawLake
	manifest *repository.MemoryManifest
	catalog  *catalog.Catalog
	curated  *repository.MemoryCuratedStore
	registry *cleaner.Registry
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := cleaner.DefaultRegistry()
	f := &fixture{
		rawLake:  repository.NewMemoryRawLake(),
		manifest: repository.NewMemoryManifest(),
		catalog:  catalog.New(filepath.Join(t.TempDir(), "catalog.json"), registry),
		curated:  repository.NewMemoryCuratedStore(),
		registry: registry,
	}
	f.service = NewService(f.rawLake, f.manifest, f.catalog, f.curated, registry, fingerprint.DefaultConfig())
	return f
}

func (f *fixture) ingest(t *testing.T, content string) string {
	t.Helper()
	ctx := context.Background()
	hash, err := f.rawLake.Put(ctx, []byte(content))
	if err != nil {
		t.Fatalf("failed to seed raw lake: %v", err)
	}
	if _, err := f.manifest.RegisterIfNew(ctx, hash, "seed.csv"); err != nil {
		t.Fatalf("failed to seed manifest: %v", err)
	}
	return hash
}

func (f *fixture) status(t *testing.T, hash string) domain.FileStatus {
	t.Helper()
	entry, err := f.manifest.Get(context.Background(), hash)
	if err != nil {
		t.Fatalf("manifest entry missing: %v", err)
	}
	return entry.Status
}

func TestRunQuarantinesUnknownFormat(t *testing.T) {
	f := newFixture(t)
	hash := f.ingest(t, quotesCSV)

	summary, err := f.service.Run(context.Background(), Options{MaxWorkers: 2})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if summary.Quarantined != 1 || summary.Succeeded != 0 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := f.status(t, hash); got != domain.StatusQuarantined {
		t.Fatalf("expected QUARANTINED, got %s", got)
	}
	if f.curated.RowCount("fact_quotes") != 0 {
		t.Fatalf("curated store must stay unchanged for quarantined files")
	}

	entry, _ := f.manifest.Get(context.Background(), hash)
	if entry.ErrorMessage == nil || !strings.Contains(*entry.ErrorMessage, "unknown format fingerprint") {
		t.Fatalf("expected unknown-format error message, got %+v", entry.ErrorMessage)
	}
	if entry.PipelineExecutionID == nil {
		t.Fatalf("expected execution id to be recorded")
	}
}

func TestRunReprocessQuarantinedAfterRegistration(t *testing.T) {
	f := newFixture(t)
	hash := f.ingest(t, quotesCSV)

	if _, err := f.service.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	if got := f.status(t, hash); got != domain.StatusQuarantined {
		t.Fatalf("expected QUARANTINED before registration, got %s", got)
	}

	// Without the reprocess flag, quarantined files stay put.
	if err := f.catalog.Register(quotesFingerprint(), quotesRecipe()); err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	summary, err := f.service.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Succeeded != 0 || f.status(t, hash) != domain.StatusQuarantined {
		t.Fatalf("quarantined file must not be picked up without reprocess flag")
	}

	summary, err = f.service.Run(context.Background(), Options{ReprocessQuarantined: true})
	if err != nil {
		t.Fatalf("reprocess run returned error: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("expected 1 success on reprocess, got %+v", summary)
	}
	if got := f.status(t, hash); got != domain.StatusTransformationSuccess {
		t.Fatalf("expected TRANSFORMATION_SUCCESS, got %s", got)
	}
	if f.curated.RowCount("fact_quotes") != 5 {
		t.Fatalf("expected 5 curated rows, got %d", f.curated.RowCount("fact_quotes"))
	}

	entry, _ := f.manifest.Get(context.Background(), hash)
	if entry.ProcessedRowCount == nil || *entry.ProcessedRowCount != 5 {
		t.Fatalf("expected processed_row_count=5, got %+v", entry.ProcessedRowCount)
	}
	if entry.ErrorMessage != nil {
		t.Fatalf("error message must be cleared on success, got %q", *entry.ErrorMessage)
	}
	if entry.TargetTableName == nil || *entry.TargetTableName != "fact_quotes" {
		t.Fatalf("expected target table recorded, got %+v", entry.TargetTableName)
	}
}

func TestRunFailsOnMissingRequiredColumns(t *testing.T) {
	f := newFixture(t)
	// Same header minus volume: distinct fingerprint, so register a recipe
	// for it that still requires volume.
	content := "trade_date,contract,close\n2024-01-03,TX,17600\n"
	hash := f.ingest(t, content)

	recipe := quotesRecipe()
	fp := fingerprint.Compute([]string{"trade_date", "contract", "close"})
	if err := f.catalog.Register(fp, recipe); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	summary, err := f.service.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected 1 failure, got %+v", summary)
	}
	if got := f.status(t, hash); got != domain.StatusTransformationFailed {
		t.Fatalf("expected TRANSFORMATION_FAILED, got %s", got)
	}
	if f.curated.RowCount("fact_quotes") != 0 {
		t.Fatalf("no rows may reach the curated store on validation failure")
	}

	entry, _ := f.manifest.Get(context.Background(), hash)
	if entry.ErrorMessage == nil || !strings.Contains(*entry.ErrorMessage, "required columns missing") {
		t.Fatalf("expected required-columns error, got %+v", entry.ErrorMessage)
	}
}

func TestRunCapturesCleanerFailure(t *testing.T) {
	registry := cleaner.DefaultRegistry()
	if err := registry.Register("always_fails", func(table domain.Table) (domain.Table, error) {
		panic("cleaner exploded")
	}); err != nil {
		t.Fatalf("register cleaner: %v", err)
	}

	f := &fixture{
		rawLake:  repository.NewMemoryRawLake(),
		manifest: repository.NewMemoryManifest(),
		catalog:  catalog.New(filepath.Join(t.TempDir(), "catalog.json"), registry),
		curated:  repository.NewMemoryCuratedStore(),
		registry: registry,
	}
	f.service = NewService(f.rawLake, f.manifest, f.catalog, f.curated, registry, fingerprint.DefaultConfig())

	hash := f.ingest(t, quotesCSV)
	recipe := quotesRecipe()
	recipe.CleanerFunction = "always_fails"
	if err := f.catalog.Register(quotesFingerprint(), recipe); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	summary, err := f.service.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected cleaner panic to become a failure result, got %+v", summary)
	}
	if got := f.status(t, hash); got != domain.StatusTransformationFailed {
		t.Fatalf("expected TRANSFORMATION_FAILED, got %s", got)
	}

	entry, _ := f.manifest.Get(context.Background(), hash)
	if entry.ErrorMessage == nil || !strings.Contains(*entry.ErrorMessage, "cleaner exploded") {
		t.Fatalf("expected captured panic detail, got %+v", entry.ErrorMessage)
	}
}

func TestRunUpsertIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, quotesCSV)
	if err := f.catalog.Register(quotesFingerprint(), quotesRecipe()); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if _, err := f.service.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("first run returned error: %v", err)
	}
	firstCount := f.curated.RowCount("fact_quotes")
	firstRow, ok := f.curated.Row("fact_quotes", "2024-01-03", "TX")
	if !ok {
		t.Fatalf("expected row for 2024-01-03/TX")
	}

	// A rebuilt manifest pointed at the same curated table reprocesses the
	// same content, as after a disaster-recovery replay from the raw lake.
	// The upsert must converge instead of duplicating or altering rows.
	g := &fixture{
		rawLake:  repository.NewMemoryRawLake(),
		manifest: repository.NewMemoryManifest(),
		catalog:  f.catalog,
		curated:  f.curated,
		registry: f.registry,
	}
	g.service = NewService(g.rawLake, g.manifest, g.catalog, g.curated, g.registry, fingerprint.DefaultConfig())
	g.ingest(t, quotesCSV)
	if _, err := g.service.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("second run returned error: %v", err)
	}

	if got := f.curated.RowCount("fact_quotes"); got != firstCount {
		t.Fatalf("reprocessing changed row count: %d != %d", got, firstCount)
	}
	secondRow, _ := f.curated.Row("fact_quotes", "2024-01-03", "TX")
	for i := range firstRow {
		if firstRow[i] != secondRow[i] {
			t.Fatalf("reprocessing changed row values: %+v != %+v", firstRow, secondRow)
		}
	}
}

func TestRunProcessesManyFilesInParallel(t *testing.T) {
	f := newFixture(t)
	if err := f.catalog.Register(quotesFingerprint(), quotesRecipe()); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	for day := 10; day < 30; day++ {
		content := strings.Replace(quotesCSV, "2024-01-02", "2024-02-"+string(rune('0'+day/10))+string(rune('0'+day%10)), 1)
		f.ingest(t, content)
	}

	summary, err := f.service.Run(context.Background(), Options{MaxWorkers: 4})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Succeeded != 20 {
		t.Fatalf("expected 20 successes, got %+v", summary)
	}
}

func TestRunEmptyWorkList(t *testing.T) {
	f := newFixture(t)
	summary, err := f.service.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary != (Summary{}) {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}

func TestRunContentWithoutHeaderIsQuarantined(t *testing.T) {
	f := newFixture(t)
	hash := f.ingest(t, "\n\n\n")

	summary, err := f.service.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Quarantined != 1 {
		t.Fatalf("headerless content must quarantine, got %+v", summary)
	}
	if got := f.status(t, hash); got != domain.StatusQuarantined {
		t.Fatalf("expected QUARANTINED, got %s", got)
	}
}
