package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heymumford/ztoq/internal/model"
)

// MemoryStore is an in-memory implementation of EntityStore, StateStore,
// Recorder and CheckpointStore, used by tests and dry runs.
type MemoryStore struct {
	mu sync.RWMutex

	entities map[string]*model.Entity           // project/kind/sourceID
	order    map[string][]string                // project/kind -> source ids in insertion order
	mappings map[string]model.IdentifierMapping // project/kind/sourceID
	states   map[string]*model.MigrationState   // project/phase
	batches  map[string]*model.Batch            // project/phase/kind/number
	items    map[string]*model.ItemState        // project/phase/kind/sourceID
	mapSeq   int                                // mapping insertion order for newest-first listing
	mapOrder map[string]int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]*model.Entity),
		order:    make(map[string][]string),
		mappings: make(map[string]model.IdentifierMapping),
		states:   make(map[string]*model.MigrationState),
		batches:  make(map[string]*model.Batch),
		items:    make(map[string]*model.ItemState),
		mapOrder: make(map[string]int),
	}
}

func entityKey(project string, kind model.EntityKind, sourceID string) string {
	return fmt.Sprintf("%s/%s/%s", project, kind, sourceID)
}

func kindKey(project string, kind model.EntityKind) string {
	return fmt.Sprintf("%s/%s", project, kind)
}

func stateKey(project string, phase model.Phase) string {
	return fmt.Sprintf("%s/%s", project, phase)
}

func batchKey(project string, phase model.Phase, kind model.EntityKind, number int) string {
	return fmt.Sprintf("%s/%s/%s/%d", project, phase, kind, number)
}

func itemKey(project string, phase model.Phase, kind model.EntityKind, sourceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", project, phase, kind, sourceID)
}

// PutExtracted stages one source entity
func (s *MemoryStore) PutExtracted(ctx context.Context, project string, item *model.SourceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey(project, item.Kind, item.ID)
	if _, exists := s.entities[key]; !exists {
		kk := kindKey(project, item.Kind)
		s.order[kk] = append(s.order[kk], item.ID)
	}
	s.entities[key] = &model.Entity{
		Project:     project,
		Kind:        item.Kind,
		SourceID:    item.ID,
		Source:      item,
		ExtractedAt: time.Now(),
	}
	return nil
}

// GetEntity retrieves one staged entity
func (s *MemoryStore) GetEntity(ctx context.Context, project string, kind model.EntityKind, sourceID string) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[entityKey(project, kind, sourceID)]
	if !ok {
		return nil, ErrNotFound
	}
	return entity, nil
}

// PutTransformed stores the target-shaped payload for a staged entity
func (s *MemoryStore) PutTransformed(ctx context.Context, project string, kind model.EntityKind, sourceID string, target *model.TargetItem, warnings []model.Warning) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.entities[entityKey(project, kind, sourceID)]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	entity.Transformed = target
	entity.Warnings = warnings
	entity.TransformedAt = &now
	return nil
}

// ListSourceIDs returns staged source ids in insertion order
func (s *MemoryStore) ListSourceIDs(ctx context.Context, project string, kind model.EntityKind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[kindKey(project, kind)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

// CountEntities returns the number of staged entities for a kind
func (s *MemoryStore) CountEntities(ctx context.Context, project string, kind model.EntityKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order[kindKey(project, kind)]), nil
}

// DeleteEntities removes all staged entities for a kind
func (s *MemoryStore) DeleteEntities(ctx context.Context, project string, kind model.EntityKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order[kindKey(project, kind)] {
		delete(s.entities, entityKey(project, kind, id))
	}
	delete(s.order, kindKey(project, kind))
	return nil
}

// PutMapping records a source-id to target-id translation idempotently
func (s *MemoryStore) PutMapping(ctx context.Context, project string, kind model.EntityKind, sourceID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putMappingLocked(project, kind, sourceID, targetID)
	return nil
}

func (s *MemoryStore) putMappingLocked(project string, kind model.EntityKind, sourceID, targetID string) {
	key := entityKey(project, kind, sourceID)
	if _, exists := s.mappings[key]; exists {
		return
	}
	s.mapSeq++
	s.mapOrder[key] = s.mapSeq
	s.mappings[key] = model.IdentifierMapping{
		Project:   project,
		Kind:      kind,
		SourceID:  sourceID,
		TargetID:  targetID,
		CreatedAt: time.Now(),
	}
}

// GetMapping resolves a source id to its target id
func (s *MemoryStore) GetMapping(ctx context.Context, project string, kind model.EntityKind, sourceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[entityKey(project, kind, sourceID)]
	if !ok {
		return "", ErrMappingNotFound
	}
	return m.TargetID, nil
}

// ListMappings returns mappings for a kind newest-first
func (s *MemoryStore) ListMappings(ctx context.Context, project string, kind model.EntityKind) ([]model.IdentifierMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mappings := make([]model.IdentifierMapping, 0)
	for _, m := range s.mappings {
		if m.Project == project && m.Kind == kind {
			mappings = append(mappings, m)
		}
	}
	// Newest-first by insertion order
	for i := 0; i < len(mappings); i++ {
		for j := i + 1; j < len(mappings); j++ {
			ki := entityKey(project, kind, mappings[i].SourceID)
			kj := entityKey(project, kind, mappings[j].SourceID)
			if s.mapOrder[kj] > s.mapOrder[ki] {
				mappings[i], mappings[j] = mappings[j], mappings[i]
			}
		}
	}
	return mappings, nil
}

// DeleteMappings removes all mappings for a kind
func (s *MemoryStore) DeleteMappings(ctx context.Context, project string, kind model.EntityKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, m := range s.mappings {
		if m.Project == project && m.Kind == kind {
			delete(s.mappings, key)
			delete(s.mapOrder, key)
		}
	}
	return nil
}

// GetMigrationState retrieves the state of one (project, phase) pair
func (s *MemoryStore) GetMigrationState(ctx context.Context, project string, phase model.Phase) (*model.MigrationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[stateKey(project, phase)]
	if !ok {
		return &model.MigrationState{Project: project, Phase: phase, Status: model.PhaseStatusNotStarted}, nil
	}
	copied := *state
	return &copied, nil
}

// SetMigrationState upserts the state of one (project, phase) pair
func (s *MemoryStore) SetMigrationState(ctx context.Context, project string, phase model.Phase, status model.PhaseStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[stateKey(project, phase)] = &model.MigrationState{
		Project:      project,
		Phase:        phase,
		Status:       status,
		ErrorMessage: errorMessage,
		UpdatedAt:    time.Now(),
	}
	return nil
}

// ListMigrationStates returns all phase states for a project
func (s *MemoryStore) ListMigrationStates(ctx context.Context, project string) ([]*model.MigrationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*model.MigrationState, 0)
	for _, state := range s.states {
		if state.Project == project {
			copied := *state
			states = append(states, &copied)
		}
	}
	return states, nil
}

// UpsertBatch creates a batch record preserving existing progress
func (s *MemoryStore) UpsertBatch(ctx context.Context, batch *model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := batchKey(batch.Project, batch.Phase, batch.Kind, batch.BatchNumber)
	if existing, ok := s.batches[key]; ok {
		existing.TotalItems = batch.TotalItems
		return nil
	}
	copied := *batch
	s.batches[key] = &copied
	return nil
}

// UpdateBatchStatus transitions a batch's lifecycle status
func (s *MemoryStore) UpdateBatchStatus(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, status model.BatchStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[batchKey(project, phase, kind, batchNumber)]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	batch.Status = status
	batch.LastError = lastError
	switch status {
	case model.BatchStatusInProgress:
		batch.StartedAt = &now
	case model.BatchStatusCompleted, model.BatchStatusFailed:
		batch.CompletedAt = &now
	}
	return nil
}

// ListBatches returns all batch records for a phase
func (s *MemoryStore) ListBatches(ctx context.Context, project string, phase model.Phase) ([]model.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([]model.Batch, 0)
	for _, b := range s.batches {
		if b.Project == project && b.Phase == phase {
			batches = append(batches, *b)
		}
	}
	return batches, nil
}

// ResetInProgressBatches flips orphaned in_progress batches back to pending
func (s *MemoryStore) ResetInProgressBatches(ctx context.Context, project string, phase model.Phase) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for _, b := range s.batches {
		if b.Project == project && b.Phase == phase && b.Status == model.BatchStatusInProgress {
			b.Status = model.BatchStatusPending
			reset++
		}
	}
	return reset, nil
}

// ListProcessedItems returns source ids already processed for a phase/kind
func (s *MemoryStore) ListProcessedItems(ctx context.Context, project string, phase model.Phase, kind model.EntityKind) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	processed := make(map[string]bool)
	for _, item := range s.items {
		if item.Project == project && item.Phase == phase && item.Kind == kind && item.Status == model.ItemStatusProcessed {
			processed[item.SourceID] = true
		}
	}
	return processed, nil
}

// ListFailedItems returns failed items for a phase
func (s *MemoryStore) ListFailedItems(ctx context.Context, project string, phase model.Phase) ([]model.ItemFailure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failures := make([]model.ItemFailure, 0)
	for _, item := range s.items {
		if item.Project == project && item.Phase == phase && item.Status == model.ItemStatusFailed {
			failures = append(failures, model.ItemFailure{
				Kind:     item.Kind,
				SourceID: item.SourceID,
				Error:    item.Error,
			})
		}
	}
	return failures, nil
}

// RecordItemFailure records an item-level failure
func (s *MemoryStore) RecordItemFailure(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, sourceID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[itemKey(project, phase, kind, sourceID)] = &model.ItemState{
		Project:     project,
		Phase:       phase,
		Kind:        kind,
		SourceID:    sourceID,
		Status:      model.ItemStatusFailed,
		Error:       errorMessage,
		ProcessedAt: time.Now(),
	}
	return nil
}

// DeletePhaseState removes the phase record and its batch and item state
func (s *MemoryStore) DeletePhaseState(ctx context.Context, project string, phase model.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, stateKey(project, phase))
	for key, b := range s.batches {
		if b.Project == project && b.Phase == phase {
			delete(s.batches, key)
		}
	}
	for key, item := range s.items {
		if item.Project == project && item.Phase == phase {
			delete(s.items, key)
		}
	}
	return nil
}

// RecordProcessed marks one item processed and bumps its batch counter
func (s *MemoryStore) RecordProcessed(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, sourceID string) error {
	return s.recordItem(project, phase, kind, batchNumber, sourceID, "")
}

// RecordLoaded marks one item loaded and writes its identifier mapping
func (s *MemoryStore) RecordLoaded(ctx context.Context, project string, phase model.Phase, kind model.EntityKind, batchNumber int, sourceID, targetID string) error {
	return s.recordItem(project, phase, kind, batchNumber, sourceID, targetID)
}

func (s *MemoryStore) recordItem(project string, phase model.Phase, kind model.EntityKind, batchNumber int, sourceID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if targetID != "" {
		s.putMappingLocked(project, kind, sourceID, targetID)
	}

	key := itemKey(project, phase, kind, sourceID)
	if existing, ok := s.items[key]; ok && existing.Status == model.ItemStatusProcessed {
		return nil
	}
	s.items[key] = &model.ItemState{
		Project:     project,
		Phase:       phase,
		Kind:        kind,
		SourceID:    sourceID,
		Status:      model.ItemStatusProcessed,
		ProcessedAt: time.Now(),
	}
	if batch, ok := s.batches[batchKey(project, phase, kind, batchNumber)]; ok {
		batch.ProcessedCount++
	}
	return nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() {}

// MemoryCheckpointStore is an in-memory CheckpointStore for tests.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	cursors map[string]string
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{cursors: make(map[string]string)}
}

// GetCursor retrieves the page cursor for a (project, kind)
func (s *MemoryCheckpointStore) GetCursor(ctx context.Context, project string, kind model.EntityKind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cursor, ok := s.cursors[kindKey(project, kind)]
	if !ok {
		return "", ErrNotFound
	}
	return cursor, nil
}

// SetCursor persists the page cursor for a (project, kind)
func (s *MemoryCheckpointStore) SetCursor(ctx context.Context, project string, kind model.EntityKind, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[kindKey(project, kind)] = cursor
	return nil
}

// DeleteCursor removes the page cursor for a (project, kind)
func (s *MemoryCheckpointStore) DeleteCursor(ctx context.Context, project string, kind model.EntityKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, kindKey(project, kind))
	return nil
}

// Ping always succeeds for the in-memory checkpoint store
func (s *MemoryCheckpointStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory checkpoint store
func (s *MemoryCheckpointStore) Close() error {
	return nil
}
