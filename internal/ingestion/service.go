// Package ingestion implements the first pipeline stage: scanning source
// directories and landing every unseen file's bytes in the raw lake. The
// stage performs no parsing and makes no assumptions about file format; its
// only responsibility is safe, deduplicated ingestion of bytes.
package ingestion

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/mytaifex/taifex-pipeline/internal/domain"
	"github.com/mytaifex/taifex-pipeline/internal/repository"
)

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// Service scans source directories into the raw lake and manifest.
type Service struct {
	rawLake  repository.RawLakeRepository
	manifest repository.ManifestRepository
}

// NewService creates a new ingestion service.
func NewService(rawLake repository.RawLakeRepository, manifest repository.ManifestRepository) *Service {
	return &Service{rawLake: rawLake, manifest: manifest}
}

// Summary returns ingestion level metrics for one run.
type Summary struct {
	NewFiles     int `json:"newFiles"`
	SkippedFiles int `json:"skippedFiles"`
	Errors       int `json:"errors"`
}

// Run walks each source directory recursively and ingests every regular
// file. Identical byte content is ingested once regardless of how many paths
// carry it. Per-file I/O errors are logged and counted but never abort the
// scan; only a cancelled context stops the run early.
func (s *Service) Run(ctx context.Context, sourceDirs []string) (Summary, error) {
	summary := Summary{}
	if len(sourceDirs) == 0 {
		return summary, errors.New("at least one source directory is required")
	}

	// Hashes observed during this run. Shared across directories and archive
	// recursion so nested archives cannot loop forever.
	seen := make(map[string]bool)

	for _, dir := range sourceDirs {
		walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				log.Printf("[INGEST] skipping %s: %v", path, err)
				summary.Errors++
				if entry != nil && entry.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if entry.IsDir() || !entry.Type().IsRegular() {
				return nil
			}

			content, readErr := os.ReadFile(path)
			if readErr != nil {
				log.Printf("[INGEST] skipping unreadable file %s: %v", path, readErr)
				summary.Errors++
				return nil
			}

			s.ingestContent(ctx, path, content, seen, &summary)
			return nil
		})
		if walkErr != nil {
			if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
				return summary, walkErr
			}
			// A root that cannot be walked at all still should not abort the
			// remaining directories.
			log.Printf("[INGEST] failed to scan %s: %v", dir, walkErr)
			summary.Errors++
		}
	}

	log.Printf("[INGEST] done: %d new, %d skipped, %d errors", summary.NewFiles, summary.SkippedFiles, summary.Errors)
	return summary, nil
}

// ingestContent handles one logical file. Zip archives are expanded and each
// inner file ingested individually; the container bytes themselves are never
// stored. The seen map breaks cycles in pathological nested archives.
func (s *Service) ingestContent(ctx context.Context, path string, content []byte, seen map[string]bool, summary *Summary) {
	hash := domain.ContentHash(content)
	if seen[hash] {
		summary.SkippedFiles++
		return
	}
	seen[hash] = true

	if isZipArchive(content) {
		s.ingestArchive(ctx, path, content, seen, summary)
		return
	}

	// Known content is skipped without rewriting its bytes; the manifest is
	// the source of truth for what has been ingested.
	if _, err := s.manifest.Get(ctx, hash); err == nil {
		summary.SkippedFiles++
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Printf("[INGEST] failed to check manifest for %s: %v", path, err)
		summary.Errors++
		return
	}

	if _, err := s.rawLake.Put(ctx, content); err != nil {
		log.Printf("[INGEST] failed to store %s: %v", path, err)
		summary.Errors++
		return
	}

	isNew, err := s.manifest.RegisterIfNew(ctx, hash, path)
	if err != nil {
		log.Printf("[INGEST] failed to register %s: %v", path, err)
		summary.Errors++
		return
	}
	if isNew {
		summary.NewFiles++
	} else {
		summary.SkippedFiles++
	}
}

func (s *Service) ingestArchive(ctx context.Context, path string, content []byte, seen map[string]bool, summary *Summary) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		log.Printf("[INGEST] failed to open archive %s: %v", path, err)
		summary.Errors++
		return
	}

	for _, inner := range reader.File {
		if ctx.Err() != nil {
			return
		}
		if inner.FileInfo().IsDir() {
			continue
		}

		innerPath := fmt.Sprintf("%s::%s", path, inner.Name)
		innerContent, err := readZipEntry(inner)
		if err != nil {
			log.Printf("[INGEST] failed to read archive entry %s: %v", innerPath, err)
			summary.Errors++
			continue
		}
		s.ingestContent(ctx, innerPath, innerContent, seen, summary)
	}
}

func readZipEntry(entry *zip.File) ([]byte, error) {
	rc, err := entry.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}

func isZipArchive(content []byte) bool {
	return len(content) >= len(zipMagic) && bytes.Equal(content[:len(zipMagic)], zipMagic)
}
