// Package transformation implements the second pipeline stage: turning
// raw-lake bytes into curated-store rows. Files are dispatched by format
// fingerprint; unknown formats are quarantined for operator registration,
// recognized formats are parsed, validated, cleaned and upserted.
package transformation

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/mytaifex/taifex-pipeline/internal/cleaner"
	"github.com/mytaifex/taifex-pipeline/internal/domain"
	"github.com/mytaifex/taifex-pipeline/internal/fingerprint"
	"github.com/mytaifex/taifex-pipeline/internal/repository"

	"github.com/google/uuid"
)

// RecipeSource is the catalog subset the pipeline needs.
type RecipeSource interface {
	Lookup(fingerprint string) (domain.Recipe, bool)
}

// Service orchestrates parallel transformation of ingested files.
type Service struct {
	rawLake  repository.RawLakeRepository
	manifest repository.ManifestRepository
	catalog  RecipeSource
	curated  repository.CuratedStore
	cleaners *cleaner.Registry
	fpConfig fingerprint.Config
}

// NewService creates a new transformation service.
func NewService(
	rawLake repository.RawLakeRepository,
	manifest repository.ManifestRepository,
	catalog RecipeSource,
	curated repository.CuratedStore,
	cleaners *cleaner.Registry,
	fpConfig fingerprint.Config,
) *Service {
	return &Service{
		rawLake:  rawLake,
		manifest: manifest,
		catalog:  catalog,
		curated:  curated,
		cleaners: cleaners,
		fpConfig: fpConfig,
	}
}

// Options controls one transformation run.
type Options struct {
	// MaxWorkers bounds worker parallelism; 0 means the detected core count.
	MaxWorkers int
	// ReprocessQuarantined adds QUARANTINED files to the work list, used
	// after an operator registers a missing format.
	ReprocessQuarantined bool
}

// Summary returns transformation level metrics for one run.
type Summary struct {
	Succeeded   int `json:"succeeded"`
	Quarantined int `json:"quarantined"`
	Failed      int `json:"failed"`
}

// Result is the structured outcome of one file's transformation attempt.
// Nothing else crosses the worker boundary: errors and panics inside a worker
// are converted into a Result, never propagated.
type Result struct {
	FileHash     string
	Status       domain.FileStatus
	Fingerprint  string
	TargetTable  string
	RowCount     int
	ErrorMessage string
}

// Run builds the work list from the manifest, fans it out across a worker
// pool, and records every outcome back into the manifest tagged with this
// run's execution id. Each file's transformation is independent; no ordering
// is guaranteed across files.
func (s *Service) Run(ctx context.Context, opts Options) (Summary, error) {
	summary := Summary{}

	work, err := s.buildWorkList(ctx, opts.ReprocessQuarantined)
	if err != nil {
		return summary, err
	}
	if len(work) == 0 {
		log.Printf("[TRANSFORM] nothing to do")
		return summary, nil
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(work) {
		workers = len(work)
	}

	executionID := uuid.New()
	log.Printf("[TRANSFORM] run %s: %d files, %d workers", executionID, len(work), workers)

	jobs := make(chan domain.ManifestEntry)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				results <- s.processOne(ctx, entry)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, entry := range work {
			select {
			case jobs <- entry:
			case <-ctx.Done():
				// Undispatched files keep their pre-run status and are
				// retried by the next run.
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	newlyQuarantined := 0
	var recordErr error
	for result := range results {
		if recordErr != nil {
			continue // drain remaining results after a manifest failure
		}

		update := domain.StatusUpdate{
			FingerprintHash: result.Fingerprint,
			TargetTable:     result.TargetTable,
			ErrorMessage:    result.ErrorMessage,
			ExecutionID:     executionID,
		}
		if result.Status == domain.StatusTransformationSuccess {
			rowCount := result.RowCount
			update.ProcessedRowCount = &rowCount
		}

		if err := s.manifest.UpdateStatus(ctx, result.FileHash, result.Status, update); err != nil {
			// A file whose outcome cannot be durably recorded must not be
			// reported as processed. This fails the whole run.
			recordErr = fmt.Errorf("failed to record outcome for %s: %w", result.FileHash, err)
			continue
		}

		switch result.Status {
		case domain.StatusTransformationSuccess:
			summary.Succeeded++
		case domain.StatusQuarantined:
			summary.Quarantined++
			newlyQuarantined++
		default:
			summary.Failed++
			log.Printf("[TRANSFORM] %s failed: %s", result.FileHash, result.ErrorMessage)
		}
	}

	if recordErr != nil {
		return summary, recordErr
	}

	log.Printf("[TRANSFORM] run %s done: %d succeeded, %d quarantined, %d failed",
		executionID, summary.Succeeded, summary.Quarantined, summary.Failed)
	if newlyQuarantined > 0 {
		log.Printf("[TRANSFORM] %d files need manual format registration", newlyQuarantined)
	}
	return summary, ctx.Err()
}

func (s *Service) buildWorkList(ctx context.Context, reprocessQuarantined bool) ([]domain.ManifestEntry, error) {
	work, err := s.manifest.QueryByStatus(ctx, domain.StatusRawIngested)
	if err != nil {
		return nil, fmt.Errorf("failed to build work list: %w", err)
	}
	if reprocessQuarantined {
		quarantined, err := s.manifest.QueryByStatus(ctx, domain.StatusQuarantined)
		if err != nil {
			return nil, fmt.Errorf("failed to list quarantined files: %w", err)
		}
		work = append(work, quarantined...)
	}
	return work, nil
}

// processOne runs the per-file worker task. It is safe to retry: the curated
// upsert is idempotent and the manifest update happens outside, keyed by the
// returned result. Panics from cleaners or parsers become failure results.
func (s *Service) processOne(ctx context.Context, entry domain.ManifestEntry) (result Result) {
	result = Result{FileHash: entry.FileHash}
	defer func() {
		if r := recover(); r != nil {
			result.Status = domain.StatusTransformationFailed
			result.ErrorMessage = fmt.Sprintf("panic during transformation: %v", r)
		}
	}()

	content, err := s.rawLake.Get(ctx, entry.FileHash)
	if err != nil {
		result.Status = domain.StatusTransformationFailed
		result.ErrorMessage = fmt.Sprintf("failed to fetch raw content: %v", err)
		return result
	}

	fp, err := fingerprint.FromContent(content, s.fpConfig)
	if err != nil {
		result.Status = domain.StatusQuarantined
		result.ErrorMessage = fmt.Sprintf("unknown format fingerprint: %v", err)
		return result
	}
	result.Fingerprint = fp

	recipe, found := s.catalog.Lookup(fp)
	if !found {
		result.Status = domain.StatusQuarantined
		result.ErrorMessage = "unknown format fingerprint"
		return result
	}
	result.TargetTable = recipe.TargetTable

	table, err := parseTable(content, recipe.ParserConfig)
	if err != nil {
		result.Status = domain.StatusTransformationFailed
		result.ErrorMessage = fmt.Sprintf("parse failed: %v", err)
		return result
	}

	if missing := table.MissingColumns(recipe.RequiredColumns); len(missing) > 0 {
		result.Status = domain.StatusTransformationFailed
		result.ErrorMessage = fmt.Sprintf("required columns missing: %v", missing)
		return result
	}

	clean, found := s.cleaners.Resolve(recipe.CleanerFunction)
	if !found {
		// Catalog load validates cleaner names, so this only happens when a
		// catalog was edited behind the pipeline's back.
		result.Status = domain.StatusTransformationFailed
		result.ErrorMessage = fmt.Sprintf("cleaner %q is not registered", recipe.CleanerFunction)
		return result
	}
	cleaned, err := clean(table)
	if err != nil {
		result.Status = domain.StatusTransformationFailed
		result.ErrorMessage = fmt.Sprintf("cleaner %s failed: %v", recipe.CleanerFunction, err)
		return result
	}

	rowCount, err := s.curated.Upsert(ctx, recipe.TargetTable, cleaned.Columns, recipe.UniqueKey, cleaned.Rows)
	if err != nil {
		result.Status = domain.StatusTransformationFailed
		result.ErrorMessage = fmt.Sprintf("load failed: %v", err)
		return result
	}

	result.Status = domain.StatusTransformationSuccess
	result.RowCount = rowCount
	return result
}
