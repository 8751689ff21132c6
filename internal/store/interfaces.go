package store

import (
	"context"
	"errors"

	"github.com/heymumford/ztoq/internal/model"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("not found")

// ErrMappingNotFound is returned when an identifier mapping does not exist.
// It means the dependency was never loaded; callers must treat it as a hard
// transform/load error, not a retryable one.
var ErrMappingNotFound = errors.New("identifier mapping not found")

// EntityStore holds staged entities and the durable identifier map.
type EntityStore interface {
	// Staged entity operations
	PutExtracted(ctx context.Context, project string, item *model.SourceItem) error
	GetEntity(ctx context.Context, project string, kind model.EntityKind, sourceID string) (*model.Entity, error)
	PutTransformed(ctx context.Context, project string, kind model.EntityKind, sourceID string, target *model.TargetItem, warnings []model.Warning) error
	// ListSourceIDs returns every staged source id for a kind in stable
	// extraction order, so batch numbering is reproducible across runs.
	ListSourceIDs(ctx context.Context, project string, kind model.EntityKind) ([]string, error)
	CountEntities(ctx context.Context, project string, kind model.EntityKind) (int, error)
	DeleteEntities(ctx context.Context, project string, kind model.EntityKind) error

	// Identifier mapping operations
	PutMapping(ctx context.Context, project string, kind model.EntityKind, sourceID, targetID string) error
	GetMapping(ctx context.Context, project string, kind model.EntityKind, sourceID string) (string, error)
	ListMappings(ctx context.Context, project string, kind model.EntityKind) ([]model.IdentifierMapping, error)
	DeleteMappings(ctx context.Context, project string, kind model.EntityKind) error

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// StateStore holds migration phase state and batch/item progress.
type StateStore interface {
	// Migration state operations
	GetMigrationState(ctx context.Context, project string, phase model.Phase) (*model.MigrationState, error)
	SetMigrationState(ctx context.Context, project string, phase model.Phase, status model.PhaseStatus, errorMessage string) error
	ListMigrationStates(ctx context.Context, project string) ([]*model.MigrationState, error)

	// Batch operations
	UpsertBatch(ctx context.Context, batch *model.Batch) error
	UpdateBatchStatus(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, status model.BatchStatus, lastError string) error
	ListBatches(ctx context.Context, project string, phase model.Phase) ([]model.Batch, error)
	// ResetInProgressBatches flips batches left in_progress by a crashed run
	// back to pending; they are never assumed complete.
	ResetInProgressBatches(ctx context.Context, project string, phase model.Phase) (int, error)

	// Item operations
	ListProcessedItems(ctx context.Context, project string, phase model.Phase, kind model.EntityKind) (map[string]bool, error)
	ListFailedItems(ctx context.Context, project string, phase model.Phase) ([]model.ItemFailure, error)
	RecordItemFailure(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, sourceID, errorMessage string) error

	// Rollback support
	DeletePhaseState(ctx context.Context, project string, phase model.Phase) error
}

// Recorder commits one item's phase completion atomically: item state,
// batch progress, and (for load) the identifier mapping land in a single
// transaction so a crash can never record one without the others.
type Recorder interface {
	RecordProcessed(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, sourceID string) error
	RecordLoaded(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, sourceID, targetID string) error
}

// CheckpointStore persists source pagination cursors so extraction resumes
// mid-enumeration after a process restart.
type CheckpointStore interface {
	GetCursor(ctx context.Context, project string, kind model.EntityKind) (string, error)
	SetCursor(ctx context.Context, project string, kind model.EntityKind, cursor string) error
	DeleteCursor(ctx context.Context, project string, kind model.EntityKind) error
	Ping(ctx context.Context) error
	Close() error
}
