package domain

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus tracks where a file sits in its ingestion/transformation lifecycle.
type FileStatus string

const (
	// StatusRawIngested is the initial state after the raw bytes land in the lake.
	StatusRawIngested FileStatus = "RAW_INGESTED"
	// StatusTransformationSuccess is the terminal success state.
	StatusTransformationSuccess FileStatus = "TRANSFORMATION_SUCCESS"
	// StatusTransformationFailed marks a parse/clean/load error. Retryable on operator request.
	StatusTransformationFailed FileStatus = "TRANSFORMATION_FAILED"
	// StatusQuarantined marks an unknown format fingerprint. Reprocessable once a
	// matching recipe is registered.
	StatusQuarantined FileStatus = "QUARANTINED"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s FileStatus) Valid() bool {
	switch s {
	case StatusRawIngested, StatusTransformationSuccess, StatusTransformationFailed, StatusQuarantined:
		return true
	}
	return false
}

var fileStatuses = []FileStatus{
	StatusRawIngested,
	StatusTransformationSuccess,
	StatusTransformationFailed,
	StatusQuarantined,
}

// CanTransitionTo reports whether the state machine permits moving to next.
// RAW_INGESTED files move to any terminal state after a transformation attempt;
// QUARANTINED files may be re-attempted once an operator registers a recipe.
func (s FileStatus) CanTransitionTo(next FileStatus) bool {
	if !next.Valid() || next == StatusRawIngested {
		return false
	}
	switch s {
	case StatusRawIngested, StatusQuarantined:
		return true
	}
	return false
}

// TransitionSources lists the statuses permitted to move to next. Storage
// layers use it to guard status updates without re-reading the row first.
func TransitionSources(next FileStatus) []FileStatus {
	var sources []FileStatus
	for _, status := range fileStatuses {
		if status.CanTransitionTo(next) {
			sources = append(sources, status)
		}
	}
	return sources
}

// ManifestEntry is one row of the durable audit log, keyed by file content hash.
// Entries are created once at ingestion and mutated only by status transitions;
// they are never deleted.
type ManifestEntry struct {
	FileHash                string
	OriginalFilePath        string
	Status                  FileStatus
	FingerprintHash         *string
	IngestionTimestamp      time.Time
	TransformationTimestamp *time.Time
	TargetTableName         *string
	ProcessedRowCount       *int
	ErrorMessage            *string
	PipelineExecutionID     *uuid.UUID
}

// StatusUpdate carries the metadata persisted alongside a status transition.
// Empty string fields clear the corresponding column, so a successful
// re-attempt wipes the error message from the previous failure.
type StatusUpdate struct {
	FingerprintHash   string
	TargetTable       string
	ProcessedRowCount *int
	ErrorMessage      string
	ExecutionID       uuid.UUID
}
