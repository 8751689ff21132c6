package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heymumford/ztoq/internal/config"
	"github.com/heymumford/ztoq/internal/mapping"
	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/resilience"
	"github.com/heymumford/ztoq/internal/store"

	clientpkg "github.com/heymumford/ztoq/internal/client"
)

// fakeSource serves a fixed item set with offset-token pagination.
type fakeSource struct {
	mu       sync.Mutex
	items    map[model.EntityKind][]*model.SourceItem
	blobs    map[string][]byte
	pageSize int
	authErr  error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		items:    make(map[model.EntityKind][]*model.SourceItem),
		blobs:    make(map[string][]byte),
		pageSize: 2,
	}
}

func (f *fakeSource) add(item *model.SourceItem) {
	f.items[item.Kind] = append(f.items[item.Kind], item)
}

func (f *fakeSource) CheckAuth(ctx context.Context) error {
	return f.authErr
}

func (f *fakeSource) ListEntities(ctx context.Context, project string, kind model.EntityKind, pageToken string) (*clientpkg.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, resilience.FatalBatch(err)
		}
		start = n
	}

	all := f.items[kind]
	end := start + f.pageSize
	if end >= len(all) {
		end = len(all)
	}

	page := &clientpkg.Page{Items: all[start:end], Done: end == len(all)}
	if !page.Done {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeSource) GetAttachment(ctx context.Context, project, attachmentID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, ok := f.blobs[attachmentID]
	if !ok {
		return nil, "", resilience.FatalItem(fmt.Errorf("no blob for %s", attachmentID))
	}
	return blob, attachmentID + ".bin", nil
}

// fakeTarget records creations and can be told to reject specific items.
type fakeTarget struct {
	mu           sync.Mutex
	nextID       int
	created      map[string]*model.TargetItem // target id -> item
	createdOrder []string
	uploads      map[string][]byte // target id -> blob
	deleted      []string
	failCreate   map[string]error // source id -> error
	authErr      error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		created:    make(map[string]*model.TargetItem),
		uploads:    make(map[string][]byte),
		failCreate: make(map[string]error),
	}
}

func (f *fakeTarget) CheckAuth(ctx context.Context) error {
	return f.authErr
}

func (f *fakeTarget) Create(ctx context.Context, project string, item *model.TargetItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failCreate[item.SourceID]; ok {
		return "", err
	}

	f.nextID++
	targetID := fmt.Sprintf("t-%d", f.nextID)
	f.created[targetID] = item
	f.createdOrder = append(f.createdOrder, targetID)
	return targetID, nil
}

func (f *fakeTarget) Update(ctx context.Context, project, targetID string, item *model.TargetItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[targetID] = item
	return nil
}

func (f *fakeTarget) Delete(ctx context.Context, project string, kind model.EntityKind, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, targetID)
	f.deleted = append(f.deleted, targetID)
	return nil
}

func (f *fakeTarget) UploadAttachment(ctx context.Context, project, parentTargetID, filename string, blob []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	targetID := fmt.Sprintf("t-%d", f.nextID)
	f.uploads[targetID] = blob
	f.createdOrder = append(f.createdOrder, targetID)
	return targetID, nil
}

func (f *fakeTarget) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createdOrder)
}

type fixture struct {
	coordinator *Coordinator
	source      *fakeSource
	target      *fakeTarget
	store       *store.MemoryStore
	checkpoints *store.MemoryCheckpointStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	source := newFakeSource()
	target := newFakeTarget()
	st := store.NewMemoryStore()
	checkpoints := store.NewMemoryCheckpointStore()
	engine := mapping.NewEngine(mapping.DefaultTables(), "Not Run", "Medium", nil)

	cfg := config.MigrationConfig{
		BatchSize:        10,
		ExtractWorkers:   2,
		TransformWorkers: 2,
		LoadWorkers:      2,
	}

	coord := New(source, target, st, st, st, checkpoints, engine, nil, cfg, nil)
	t.Cleanup(coord.Close)

	return &fixture{
		coordinator: coord,
		source:      source,
		target:      target,
		store:       st,
		checkpoints: checkpoints,
	}
}

// seedProject fills the source with a small but fully connected project.
func (f *fixture) seedProject() {
	f.source.add(&model.SourceItem{ID: "p-1", Kind: model.KindProject, Name: "Payments"})
	f.source.add(&model.SourceItem{ID: "f-1", Kind: model.KindFolder, Name: "Regression"})
	f.source.add(&model.SourceItem{ID: "tc-1", Kind: model.KindTestCase, Name: "Login", ParentID: "f-1", Status: "Pass"})
	f.source.add(&model.SourceItem{ID: "tc-2", Kind: model.KindTestCase, Name: "Logout", ParentID: "f-1", Status: "Fail"})
	f.source.add(&model.SourceItem{ID: "ts-1", Kind: model.KindTestStep, Name: "Enter credentials", ParentID: "tc-1"})
	f.source.add(&model.SourceItem{ID: "cy-1", Kind: model.KindTestCycle, Name: "Sprint 12", ParentID: "f-1"})
	f.source.add(&model.SourceItem{
		ID: "ex-1", Kind: model.KindTestExecution, Name: "Login run", ParentID: "cy-1",
		Refs:   map[model.EntityKind]string{model.KindTestCase: "tc-1"},
		Status: "Pass",
	})
	f.source.add(&model.SourceItem{ID: "att-1", Kind: model.KindAttachment, Name: "screenshot.png", ParentID: "tc-1"})
	f.source.blobs["att-1"] = []byte("fake image bytes")
}

func TestRunMigratesWholeProject(t *testing.T) {
	f := newFixture(t)
	f.seedProject()
	ctx := context.Background()

	require.NoError(t, f.coordinator.Run(ctx, "PROJ"))

	// All 8 entities landed in the target
	assert.Equal(t, 8, f.target.createCount())

	// Every phase completed
	report, err := f.coordinator.Status(ctx, "PROJ")
	require.NoError(t, err)
	for _, phase := range report.Phases {
		assert.Equal(t, model.PhaseStatusCompleted, phase.Status, string(phase.Phase))
		assert.Empty(t, phase.FailedItems, string(phase.Phase))
	}

	// References were resolved through the identifier map
	folderID, err := f.store.GetMapping(ctx, "PROJ", model.KindFolder, "f-1")
	require.NoError(t, err)
	caseID, err := f.store.GetMapping(ctx, "PROJ", model.KindTestCase, "tc-1")
	require.NoError(t, err)

	createdCase := f.target.created[caseID]
	require.NotNil(t, createdCase)
	assert.Equal(t, folderID, createdCase.ParentRef)
	assert.Equal(t, "Passed", createdCase.Status)

	execID, err := f.store.GetMapping(ctx, "PROJ", model.KindTestExecution, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, caseID, f.target.created[execID].Refs[model.KindTestCase])

	// The attachment blob was uploaded
	attID, err := f.store.GetMapping(ctx, "PROJ", model.KindAttachment, "att-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("fake image bytes"), f.target.uploads[attID])

	// Extraction cursors were cleared on completion
	_, err = f.checkpoints.GetCursor(ctx, "PROJ", model.KindTestCase)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedProject()
	ctx := context.Background()

	require.NoError(t, f.coordinator.Run(ctx, "PROJ"))
	created := f.target.createCount()

	require.NoError(t, f.coordinator.Run(ctx, "PROJ"))
	assert.Equal(t, created, f.target.createCount(), "re-run must not create duplicates")
}

func TestRunResumesAfterItemFailure(t *testing.T) {
	f := newFixture(t)
	f.seedProject()
	ctx := context.Background()

	f.target.failCreate["tc-2"] = resilience.FatalItem(errors.New("field validation failed"))

	err := f.coordinator.Run(ctx, "PROJ")
	require.Error(t, err)

	report, err := f.coordinator.Status(ctx, "PROJ")
	require.NoError(t, err)
	var loadReport model.PhaseReport
	for _, phase := range report.Phases {
		if phase.Phase == model.PhaseLoad {
			loadReport = phase
		}
	}
	assert.Equal(t, model.PhaseStatusFailed, loadReport.Status)
	require.Len(t, loadReport.FailedItems, 1)
	assert.Equal(t, "tc-2", loadReport.FailedItems[0].SourceID)

	// Items before the test-case level all loaded despite the failure
	_, err = f.store.GetMapping(ctx, "PROJ", model.KindFolder, "f-1")
	assert.NoError(t, err)
	_, err = f.store.GetMapping(ctx, "PROJ", model.KindTestCase, "tc-1")
	assert.NoError(t, err)

	// Dependent levels never started
	_, err = f.store.GetMapping(ctx, "PROJ", model.KindTestStep, "ts-1")
	assert.ErrorIs(t, err, store.ErrMappingNotFound)

	// Clear the fault and re-run: only the gap is filled
	delete(f.target.failCreate, "tc-2")
	createdBefore := f.target.createCount()

	require.NoError(t, f.coordinator.Run(ctx, "PROJ"))

	assert.Equal(t, createdBefore+5, f.target.createCount(), "tc-2, step, cycle, execution and attachment")
	_, err = f.store.GetMapping(ctx, "PROJ", model.KindTestCase, "tc-2")
	assert.NoError(t, err)
}

func TestRunAbortsWhenSourceAuthFails(t *testing.T) {
	f := newFixture(t)
	f.seedProject()
	f.source.authErr = resilience.FatalBatch(errors.New("token expired"))

	err := f.coordinator.Run(context.Background(), "PROJ")
	require.Error(t, err)
	assert.Zero(t, f.target.createCount())
}

func TestRollbackDeletesInReverseOrder(t *testing.T) {
	f := newFixture(t)
	f.seedProject()
	ctx := context.Background()

	require.NoError(t, f.coordinator.Run(ctx, "PROJ"))
	require.NoError(t, f.coordinator.Rollback(ctx, "PROJ"))

	// Everything except the attachment (deleted with its parent) was
	// deleted, dependents before dependencies.
	assert.Len(t, f.target.deleted, 7)
	projectID := f.target.deleted[len(f.target.deleted)-1]
	assert.Equal(t, "t-1", projectID, "project is deleted last")

	// Mappings and phase state are gone
	_, err := f.store.GetMapping(ctx, "PROJ", model.KindTestCase, "tc-1")
	assert.ErrorIs(t, err, store.ErrMappingNotFound)
	for _, phase := range model.PhaseOrder {
		state, err := f.store.GetMigrationState(ctx, "PROJ", phase)
		require.NoError(t, err)
		assert.Equal(t, model.PhaseStatusNotStarted, state.Status)
	}

	// A fresh run migrates everything again from the source
	require.NoError(t, f.coordinator.Run(ctx, "PROJ"))
	_, err = f.store.GetMapping(ctx, "PROJ", model.KindTestCase, "tc-1")
	assert.NoError(t, err)
}

func TestRollbackLoadOnlyKeepsStagedData(t *testing.T) {
	f := newFixture(t)
	f.seedProject()
	ctx := context.Background()

	require.NoError(t, f.coordinator.Run(ctx, "PROJ"))
	require.NoError(t, f.coordinator.Rollback(ctx, "PROJ", model.PhaseLoad, model.PhaseValidate))

	// Target-side artifacts are gone
	assert.Len(t, f.target.deleted, 7)
	_, err := f.store.GetMapping(ctx, "PROJ", model.KindTestCase, "tc-1")
	assert.ErrorIs(t, err, store.ErrMappingNotFound)

	// Earlier phases and their staged data are untouched
	for _, phase := range []model.Phase{model.PhaseExtract, model.PhaseTransform} {
		state, err := f.store.GetMigrationState(ctx, "PROJ", phase)
		require.NoError(t, err)
		assert.Equal(t, model.PhaseStatusCompleted, state.Status, string(phase))
	}
	entity, err := f.store.GetEntity(ctx, "PROJ", model.KindTestCase, "tc-1")
	require.NoError(t, err)
	assert.NotNil(t, entity.Transformed)

	state, err := f.store.GetMigrationState(ctx, "PROJ", model.PhaseLoad)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseStatusNotStarted, state.Status)

	// Re-running loads from the staged snapshot without re-extracting
	createdBefore := f.target.createCount()
	require.NoError(t, f.coordinator.Run(ctx, "PROJ"))
	assert.Equal(t, createdBefore+8, f.target.createCount())
}

func TestRunPhasesReRunsExplicitly(t *testing.T) {
	f := newFixture(t)
	f.seedProject()
	ctx := context.Background()

	require.NoError(t, f.coordinator.Run(ctx, "PROJ"))

	// An explicit validate re-run goes through even though the phase is
	// already completed.
	require.NoError(t, f.coordinator.RunPhases(ctx, "PROJ", []model.Phase{model.PhaseValidate}))

	state, err := f.store.GetMigrationState(ctx, "PROJ", model.PhaseValidate)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseStatusCompleted, state.Status)
}

func TestRunPhasesRequiresCompletedPredecessor(t *testing.T) {
	f := newFixture(t)
	f.seedProject()

	err := f.coordinator.RunPhases(context.Background(), "PROJ", []model.Phase{model.PhaseLoad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot start")
}

func TestRunPhasesRejectsUnknownPhase(t *testing.T) {
	f := newFixture(t)

	err := f.coordinator.RunPhases(context.Background(), "PROJ", []model.Phase{"compact"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}
