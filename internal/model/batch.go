package model

import "time"

// BatchStatus represents the lifecycle status of a batch
type BatchStatus string

const (
	// BatchStatusPending indicates the batch has not started
	BatchStatusPending BatchStatus = "pending"
	// BatchStatusInProgress indicates the batch is being processed
	BatchStatusInProgress BatchStatus = "in_progress"
	// BatchStatusCompleted indicates every item in the batch was processed
	BatchStatusCompleted BatchStatus = "completed"
	// BatchStatusFailed indicates the batch could make no further progress
	BatchStatusFailed BatchStatus = "failed"
)

// Batch is a fixed-size, numbered partition of one entity kind's item set
// within one phase and one project. Batch n holds items
// [n*batchSize, (n+1)*batchSize) of a stable enumeration, so numbering is
// reproducible across runs of the same extracted snapshot.
type Batch struct {
	Project        string
	Phase          Phase
	Kind           EntityKind
	BatchNumber    int
	TotalItems     int
	ProcessedCount int
	Status         BatchStatus
	LastError      string
	StartedAt      *time.Time
	CompletedAt    *time.Time

	// ItemIDs is the in-memory slice of source ids for this batch. It is
	// rebuilt from the stable enumeration on resume, never persisted.
	ItemIDs []string `json:"-"`
}

// ItemStatus represents per-item processing state within a phase.
type ItemStatus string

const (
	// ItemStatusProcessed indicates the item completed its phase
	ItemStatusProcessed ItemStatus = "processed"
	// ItemStatusFailed indicates the item failed its phase
	ItemStatusFailed ItemStatus = "failed"
)

// ItemState records per-item progress so a retried batch skips items that
// already succeeded instead of resetting to zero.
type ItemState struct {
	Project     string
	Phase       Phase
	Kind        EntityKind
	SourceID    string
	Status      ItemStatus
	Error       string
	ProcessedAt time.Time
}
