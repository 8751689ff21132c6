package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heymumford/ztoq/internal/model"
)

func stageItems(t *testing.T, s *MemoryStore, kind model.EntityKind, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("src-%03d", i)
		require.NoError(t, s.PutExtracted(context.Background(), "PROJ", &model.SourceItem{
			ID:   ids[i],
			Kind: kind,
			Name: "item " + ids[i],
		}))
	}
	return ids
}

func TestListSourceIDsPreservesExtractionOrder(t *testing.T) {
	s := NewMemoryStore()
	ids := stageItems(t, s, model.KindTestCase, 5)

	got, err := s.ListSourceIDs(context.Background(), "PROJ", model.KindTestCase)
	require.NoError(t, err)
	assert.Equal(t, ids, got)
}

func TestPutExtractedIsIdempotentPerID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	item := &model.SourceItem{ID: "src-1", Kind: model.KindFolder, Name: "first"}
	require.NoError(t, s.PutExtracted(ctx, "PROJ", item))
	updated := &model.SourceItem{ID: "src-1", Kind: model.KindFolder, Name: "second"}
	require.NoError(t, s.PutExtracted(ctx, "PROJ", updated))

	ids, err := s.ListSourceIDs(ctx, "PROJ", model.KindFolder)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	entity, err := s.GetEntity(ctx, "PROJ", model.KindFolder, "src-1")
	require.NoError(t, err)
	assert.Equal(t, "second", entity.Source.Name)
}

func TestRecordLoadedIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	batch := &model.Batch{
		Project: "PROJ", Phase: model.PhaseLoad, Kind: model.KindTestCase,
		BatchNumber: 0, TotalItems: 2, Status: model.BatchStatusPending,
	}
	require.NoError(t, s.UpsertBatch(ctx, batch))

	require.NoError(t, s.RecordLoaded(ctx, "PROJ", model.PhaseLoad, model.KindTestCase, 0, "src-1", "t-1"))
	// Replaying the same item must not bump the counter or change the mapping
	require.NoError(t, s.RecordLoaded(ctx, "PROJ", model.PhaseLoad, model.KindTestCase, 0, "src-1", "t-99"))

	batches, err := s.ListBatches(ctx, "PROJ", model.PhaseLoad)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].ProcessedCount)

	targetID, err := s.GetMapping(ctx, "PROJ", model.KindTestCase, "src-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", targetID)
}

func TestRecordProcessedOverridesEarlierFailure(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RecordItemFailure(ctx, "PROJ", model.PhaseLoad, model.KindTestCase, "src-1", "boom"))
	failures, err := s.ListFailedItems(ctx, "PROJ", model.PhaseLoad)
	require.NoError(t, err)
	require.Len(t, failures, 1)

	require.NoError(t, s.RecordProcessed(ctx, "PROJ", model.PhaseLoad, model.KindTestCase, 0, "src-1"))

	failures, err = s.ListFailedItems(ctx, "PROJ", model.PhaseLoad)
	require.NoError(t, err)
	assert.Empty(t, failures)

	processed, err := s.ListProcessedItems(ctx, "PROJ", model.PhaseLoad, model.KindTestCase)
	require.NoError(t, err)
	assert.True(t, processed["src-1"])
}

func TestListMappingsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		sourceID := fmt.Sprintf("src-%d", i)
		require.NoError(t, s.PutMapping(ctx, "PROJ", model.KindFolder, sourceID, fmt.Sprintf("t-%d", i)))
	}

	mappings, err := s.ListMappings(ctx, "PROJ", model.KindFolder)
	require.NoError(t, err)
	require.Len(t, mappings, 4)
	assert.Equal(t, "src-3", mappings[0].SourceID)
	assert.Equal(t, "src-0", mappings[3].SourceID)
}

func TestResetInProgressBatches(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.UpsertBatch(ctx, &model.Batch{
			Project: "PROJ", Phase: model.PhaseLoad, Kind: model.KindTestCase,
			BatchNumber: i, TotalItems: 10, Status: model.BatchStatusPending,
		}))
	}
	require.NoError(t, s.UpdateBatchStatus(ctx, "PROJ", model.PhaseLoad, model.KindTestCase, 0, model.BatchStatusCompleted, ""))
	require.NoError(t, s.UpdateBatchStatus(ctx, "PROJ", model.PhaseLoad, model.KindTestCase, 1, model.BatchStatusInProgress, ""))

	reset, err := s.ResetInProgressBatches(ctx, "PROJ", model.PhaseLoad)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	batches, err := s.ListBatches(ctx, "PROJ", model.PhaseLoad)
	require.NoError(t, err)
	statuses := make(map[int]model.BatchStatus)
	for _, b := range batches {
		statuses[b.BatchNumber] = b.Status
	}
	assert.Equal(t, model.BatchStatusCompleted, statuses[0])
	assert.Equal(t, model.BatchStatusPending, statuses[1])
	assert.Equal(t, model.BatchStatusPending, statuses[2])
}

func TestGetMigrationStateDefaultsToNotStarted(t *testing.T) {
	s := NewMemoryStore()

	state, err := s.GetMigrationState(context.Background(), "PROJ", model.PhaseExtract)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseStatusNotStarted, state.Status)
}

func TestDeletePhaseStateClearsEverything(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SetMigrationState(ctx, "PROJ", model.PhaseLoad, model.PhaseStatusCompleted, ""))
	require.NoError(t, s.UpsertBatch(ctx, &model.Batch{
		Project: "PROJ", Phase: model.PhaseLoad, Kind: model.KindTestCase,
		BatchNumber: 0, TotalItems: 1, Status: model.BatchStatusCompleted,
	}))
	require.NoError(t, s.RecordProcessed(ctx, "PROJ", model.PhaseLoad, model.KindTestCase, 0, "src-1"))

	require.NoError(t, s.DeletePhaseState(ctx, "PROJ", model.PhaseLoad))

	state, err := s.GetMigrationState(ctx, "PROJ", model.PhaseLoad)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseStatusNotStarted, state.Status)

	batches, err := s.ListBatches(ctx, "PROJ", model.PhaseLoad)
	require.NoError(t, err)
	assert.Empty(t, batches)

	processed, err := s.ListProcessedItems(ctx, "PROJ", model.PhaseLoad, model.KindTestCase)
	require.NoError(t, err)
	assert.Empty(t, processed)
}

func TestCheckpointStoreRoundTrip(t *testing.T) {
	s := NewMemoryCheckpointStore()
	ctx := context.Background()

	_, err := s.GetCursor(ctx, "PROJ", model.KindTestCase)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetCursor(ctx, "PROJ", model.KindTestCase, "150"))
	cursor, err := s.GetCursor(ctx, "PROJ", model.KindTestCase)
	require.NoError(t, err)
	assert.Equal(t, "150", cursor)

	require.NoError(t, s.DeleteCursor(ctx, "PROJ", model.KindTestCase))
	_, err = s.GetCursor(ctx, "PROJ", model.KindTestCase)
	assert.ErrorIs(t, err, ErrNotFound)
}
