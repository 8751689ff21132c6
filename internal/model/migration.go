package model

import "time"

// Phase represents one stage of a migration run
type Phase string

const (
	// PhaseExtract reads entities from the source system into the store
	PhaseExtract Phase = "extract"
	// PhaseTransform converts staged entities into target shape
	PhaseTransform Phase = "transform"
	// PhaseLoad creates entities in the target system
	PhaseLoad Phase = "load"
	// PhaseValidate checks every extracted entity has a target mapping
	PhaseValidate Phase = "validate"
)

// PhaseOrder is the fixed execution order of phases within a project.
var PhaseOrder = []Phase{PhaseExtract, PhaseTransform, PhaseLoad, PhaseValidate}

// Predecessor returns the phase that must complete before p runs, or ""
// for the first phase.
func (p Phase) Predecessor() Phase {
	for i, phase := range PhaseOrder {
		if phase == p && i > 0 {
			return PhaseOrder[i-1]
		}
	}
	return ""
}

// IsValidPhase reports whether p is a known phase.
func IsValidPhase(p Phase) bool {
	for _, phase := range PhaseOrder {
		if phase == p {
			return true
		}
	}
	return false
}

// PhaseStatus represents the status of one (project, phase) pair
type PhaseStatus string

const (
	// PhaseStatusNotStarted indicates the phase has never run
	PhaseStatusNotStarted PhaseStatus = "not_started"
	// PhaseStatusInProgress indicates the phase is running
	PhaseStatusInProgress PhaseStatus = "in_progress"
	// PhaseStatusCompleted indicates the phase completed successfully
	PhaseStatusCompleted PhaseStatus = "completed"
	// PhaseStatusFailed indicates at least one batch of the phase failed
	PhaseStatusFailed PhaseStatus = "failed"
)

// MigrationState is one durable record per (project, phase) pair. The
// transition to in_progress is persisted before any batch work begins, so
// a crash mid-phase leaves state recoverably consistent.
type MigrationState struct {
	Project      string
	Phase        Phase
	Status       PhaseStatus
	ErrorMessage string
	UpdatedAt    time.Time
}

// ItemFailure identifies one failed item with enough detail to target a
// narrow re-run.
type ItemFailure struct {
	Kind     EntityKind `json:"kind"`
	SourceID string     `json:"source_id"`
	Error    string     `json:"error"`
}

// PhaseReport is the per-phase section of a migration status report.
type PhaseReport struct {
	Phase       Phase         `json:"phase"`
	Status      PhaseStatus   `json:"status"`
	Error       string        `json:"error,omitempty"`
	Batches     []Batch       `json:"batches,omitempty"`
	FailedItems []ItemFailure `json:"failed_items,omitempty"`
}

// Report is the full per-project status report exposed to the CLI and the
// status server.
type Report struct {
	Project   string        `json:"project"`
	RunID     string        `json:"run_id,omitempty"`
	Phases    []PhaseReport `json:"phases"`
	UpdatedAt time.Time     `json:"updated_at"`
}
