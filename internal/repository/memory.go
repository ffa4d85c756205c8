package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mytaifex/taifex-pipeline/internal/domain"

	"github.com/google/uuid"
)

// MemoryRawLake is an in-memory RawLakeRepository used by pipeline tests and
// dry runs. It mirrors the Postgres implementation's idempotent-put contract.
type MemoryRawLake struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryRawLake returns an empty in-memory raw lake.
func NewMemoryRawLake() *MemoryRawLake {
	return &MemoryRawLake{blobs: make(map[string][]byte)}
}

// Put implements RawLakeRepository.
func (m *MemoryRawLake) Put(_ context.Context, content []byte) (string, error) {
	hash := domain.ContentHash(content)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blobs[hash]; !exists {
		stored := make([]byte, len(content))
		copy(stored, content)
		m.blobs[hash] = stored
	}
	return hash, nil
}

// Get implements RawLakeRepository.
func (m *MemoryRawLake) Get(_ context.Context, contentHash string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.blobs[contentHash]
	if !ok {
		return nil, fmt.Errorf("raw content %s: %w", contentHash, ErrNotFound)
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

// Has implements RawLakeRepository.
func (m *MemoryRawLake) Has(_ context.Context, contentHash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[contentHash]
	return ok, nil
}

// Len reports the number of stored blobs.
func (m *MemoryRawLake) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// MemoryManifest is an in-memory ManifestRepository with the same
// register/update semantics as the Postgres implementation.
type MemoryManifest struct {
	mu      sync.RWMutex
	entries map[string]domain.ManifestEntry
	order   []string
}

// NewMemoryManifest returns an empty in-memory manifest.
func NewMemoryManifest() *MemoryManifest {
	return &MemoryManifest{entries: make(map[string]domain.ManifestEntry)}
}

// RegisterIfNew implements ManifestRepository.
func (m *MemoryManifest) RegisterIfNew(_ context.Context, fileHash, originalPath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[fileHash]; exists {
		return false, nil
	}
	m.entries[fileHash] = domain.ManifestEntry{
		FileHash:           fileHash,
		OriginalFilePath:   originalPath,
		Status:             domain.StatusRawIngested,
		IngestionTimestamp: time.Now(),
	}
	m.order = append(m.order, fileHash)
	return true, nil
}

// Get implements ManifestRepository.
func (m *MemoryManifest) Get(_ context.Context, fileHash string) (domain.ManifestEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[fileHash]
	if !ok {
		return domain.ManifestEntry{}, fmt.Errorf("manifest entry %s: %w", fileHash, ErrNotFound)
	}
	return entry, nil
}

// QueryByStatus implements ManifestRepository.
func (m *MemoryManifest) QueryByStatus(_ context.Context, status domain.FileStatus) ([]domain.ManifestEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := []domain.ManifestEntry{}
	for _, hash := range m.order {
		if entry := m.entries[hash]; entry.Status == status {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// UpdateStatus implements ManifestRepository.
func (m *MemoryManifest) UpdateStatus(_ context.Context, fileHash string, status domain.FileStatus, update domain.StatusUpdate) error {
	if !status.Valid() {
		return fmt.Errorf("invalid manifest status %q", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[fileHash]
	if !ok {
		return fmt.Errorf("manifest entry %s: %w", fileHash, ErrNotFound)
	}
	if !entry.Status.CanTransitionTo(status) {
		return fmt.Errorf("manifest entry %s: illegal transition %s -> %s", fileHash, entry.Status, status)
	}

	now := time.Now()
	entry.Status = status
	entry.TransformationTimestamp = &now
	entry.FingerprintHash = nullableString(update.FingerprintHash)
	entry.TargetTableName = nullableString(update.TargetTable)
	entry.ProcessedRowCount = update.ProcessedRowCount
	entry.ErrorMessage = nullableString(update.ErrorMessage)
	if id := update.ExecutionID; id != uuid.Nil {
		entry.PipelineExecutionID = &id
	}
	m.entries[fileHash] = entry
	return nil
}

// Len reports the number of manifest entries.
func (m *MemoryManifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// MemoryCuratedStore is an in-memory CuratedStore keyed the same way as the
// Postgres implementation: one logical table per target, rows resolved on the
// unique key.
type MemoryCuratedStore struct {
	mu     sync.RWMutex
	tables map[string]map[string][]string
}

// NewMemoryCuratedStore returns an empty in-memory curated store.
func NewMemoryCuratedStore() *MemoryCuratedStore {
	return &MemoryCuratedStore{tables: make(map[string]map[string][]string)}
}

// Upsert implements CuratedStore.
func (m *MemoryCuratedStore) Upsert(_ context.Context, targetTable string, columns []string, uniqueKey []string, rows [][]string) (int, error) {
	normalizedColumns, err := normalizeIdentifiers(columns)
	if err != nil {
		return 0, fmt.Errorf("target table %s: %w", targetTable, err)
	}
	normalizedKey, err := normalizeIdentifiers(uniqueKey)
	if err != nil {
		return 0, fmt.Errorf("target table %s: %w", targetTable, err)
	}

	keyIndexes := make([]int, len(normalizedKey))
	for i, key := range normalizedKey {
		idx := -1
		for j, column := range normalizedColumns {
			if column == key {
				idx = j
				break
			}
		}
		if idx < 0 {
			return 0, fmt.Errorf("target table %s: unique key column %s not in row columns", targetTable, key)
		}
		keyIndexes[i] = idx
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.tables[targetTable]
	if !ok {
		table = make(map[string][]string)
		m.tables[targetTable] = table
	}
	for _, row := range rows {
		if len(row) != len(normalizedColumns) {
			return 0, fmt.Errorf("target table %s: row has %d cells, expected %d", targetTable, len(row), len(normalizedColumns))
		}
		key := ""
		for _, idx := range keyIndexes {
			key += row[idx] + "\x1f"
		}
		stored := make([]string, len(row))
		copy(stored, row)
		table[key] = stored
	}
	return len(rows), nil
}

// RowCount reports the number of rows in a logical table.
func (m *MemoryCuratedStore) RowCount(targetTable string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[targetTable])
}

// Row returns the stored row for a unique-key tuple.
func (m *MemoryCuratedStore) Row(targetTable string, keyValues ...string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := ""
	for _, value := range keyValues {
		key += value + "\x1f"
	}
	row, ok := m.tables[targetTable][key]
	return row, ok
}
