package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heymumford/ztoq/internal/client"
	"github.com/heymumford/ztoq/internal/config"
	"github.com/heymumford/ztoq/internal/mapping"
	"github.com/heymumford/ztoq/internal/metrics"
	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/scheduler"
	"github.com/heymumford/ztoq/internal/store"
	"github.com/heymumford/ztoq/internal/workerpool"
)

// Coordinator drives a migration run through its phases. Phase transitions
// are persisted before work begins and batch/item progress is recorded as
// it happens, so a crashed run resumes from its last durable position
// instead of starting over.
type Coordinator struct {
	source      client.SourceReader
	target      client.TargetWriter
	entities    store.EntityStore
	state       store.StateStore
	recorder    store.Recorder
	checkpoints store.CheckpointStore
	engine      *mapping.Engine
	metrics     *metrics.Metrics
	cfg         config.MigrationConfig
	logger      *zap.Logger

	transformPool *workerpool.Pool
	loadPool      *workerpool.Pool
}

// New creates a migration coordinator
func New(
	source client.SourceReader,
	target client.TargetWriter,
	entities store.EntityStore,
	state store.StateStore,
	recorder store.Recorder,
	checkpoints store.CheckpointStore,
	engine *mapping.Engine,
	m *metrics.Metrics,
	cfg config.MigrationConfig,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		source:      source,
		target:      target,
		entities:    entities,
		state:       state,
		recorder:    recorder,
		checkpoints: checkpoints,
		engine:      engine,
		metrics:     m,
		cfg:         cfg,
		logger:      logger,
		transformPool: workerpool.New(&workerpool.Config{
			Name:       "transform",
			MaxWorkers: cfg.TransformWorkers,
			Logger:     logger,
		}),
		loadPool: workerpool.New(&workerpool.Config{
			Name:       "load",
			MaxWorkers: cfg.LoadWorkers,
			Logger:     logger,
		}),
	}
}

// Close stops the phase worker pools
func (c *Coordinator) Close() {
	c.transformPool.Stop(30 * time.Second)
	c.loadPool.Stop(30 * time.Second)
}

// Run executes a full migration for one project: extract, transform, load,
// validate, in order. Completed phases are skipped, so re-running after a
// failure resumes where the previous run stopped.
func (c *Coordinator) Run(ctx context.Context, project string) error {
	return c.run(ctx, project, model.PhaseOrder, false)
}

// RunPhases explicitly re-runs the requested phases in canonical order,
// even if they already completed. Each phase still requires its
// predecessor to be completed; batch and item progress recorded earlier is
// honored, so an explicit re-run only reprocesses what never succeeded.
func (c *Coordinator) RunPhases(ctx context.Context, project string, phases []model.Phase) error {
	for _, phase := range phases {
		if !model.IsValidPhase(phase) {
			return fmt.Errorf("unknown phase: %s", phase)
		}
	}

	ordered := make([]model.Phase, 0, len(phases))
	for _, phase := range model.PhaseOrder {
		for _, requested := range phases {
			if phase == requested {
				ordered = append(ordered, phase)
				break
			}
		}
	}
	return c.run(ctx, project, ordered, true)
}

func (c *Coordinator) run(ctx context.Context, project string, phases []model.Phase, force bool) error {
	runID := uuid.NewString()
	c.logger.Info("Migration run starting",
		zap.String("project", project),
		zap.String("run_id", runID),
		zap.Int("phases", len(phases)))

	if err := c.source.CheckAuth(ctx); err != nil {
		return fmt.Errorf("source authentication failed: %w", err)
	}
	if err := c.target.CheckAuth(ctx); err != nil {
		return fmt.Errorf("target authentication failed: %w", err)
	}

	for _, phase := range phases {
		if err := c.runPhase(ctx, project, phase, force); err != nil {
			return err
		}
	}

	c.logger.Info("Migration run finished",
		zap.String("project", project),
		zap.String("run_id", runID))
	return nil
}

// phaseFunc executes one phase's work and returns the number of failed
// items.
type phaseFunc func(ctx context.Context, project string) (int, error)

// runPhase runs one phase with write-ahead state transitions. A phase
// left in_progress by a crash is re-entered, with its interrupted batches
// reset to pending first.
func (c *Coordinator) runPhase(ctx context.Context, project string, phase model.Phase, force bool) error {
	current, err := c.state.GetMigrationState(ctx, project, phase)
	if err != nil {
		return fmt.Errorf("failed to read %s state: %w", phase, err)
	}
	if current.Status == model.PhaseStatusCompleted && !force {
		c.logger.Info("Skipping completed phase",
			zap.String("project", project),
			zap.String("phase", string(phase)))
		return nil
	}

	if pred := phase.Predecessor(); pred != "" {
		predState, err := c.state.GetMigrationState(ctx, project, pred)
		if err != nil {
			return fmt.Errorf("failed to read %s state: %w", pred, err)
		}
		if predState.Status != model.PhaseStatusCompleted {
			return fmt.Errorf("phase %s cannot start: %s is %s", phase, pred, predState.Status)
		}
	}

	if err := c.state.SetMigrationState(ctx, project, phase, model.PhaseStatusInProgress, ""); err != nil {
		return fmt.Errorf("failed to mark %s in progress: %w", phase, err)
	}

	reset, err := c.state.ResetInProgressBatches(ctx, project, phase)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted batches: %w", err)
	}
	if reset > 0 {
		c.logger.Info("Reset interrupted batches",
			zap.String("project", project),
			zap.String("phase", string(phase)),
			zap.Int("count", reset))
	}

	c.logger.Info("Phase started",
		zap.String("project", project),
		zap.String("phase", string(phase)))

	if c.metrics != nil {
		c.metrics.SetPhaseActive(project, string(phase), true)
		defer c.metrics.SetPhaseActive(project, string(phase), false)
	}
	start := time.Now()

	var fn phaseFunc
	switch phase {
	case model.PhaseExtract:
		fn = c.runExtract
	case model.PhaseTransform:
		fn = c.runTransform
	case model.PhaseLoad:
		fn = c.runLoad
	case model.PhaseValidate:
		fn = c.runValidate
	default:
		return fmt.Errorf("unknown phase: %s", phase)
	}

	failedItems, err := fn(ctx, project)
	if c.metrics != nil {
		c.metrics.RecordPhase(string(phase), time.Since(start).Seconds())
	}

	if err != nil {
		if stateErr := c.state.SetMigrationState(ctx, project, phase, model.PhaseStatusFailed, err.Error()); stateErr != nil {
			c.logger.Error("Failed to persist phase failure", zap.Error(stateErr))
		}
		return fmt.Errorf("phase %s failed: %w", phase, err)
	}
	if failedItems > 0 {
		message := fmt.Sprintf("%d items failed", failedItems)
		if stateErr := c.state.SetMigrationState(ctx, project, phase, model.PhaseStatusFailed, message); stateErr != nil {
			c.logger.Error("Failed to persist phase failure", zap.Error(stateErr))
		}
		return fmt.Errorf("phase %s: %s", phase, message)
	}

	if err := c.state.SetMigrationState(ctx, project, phase, model.PhaseStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to mark %s completed: %w", phase, err)
	}

	c.logger.Info("Phase completed",
		zap.String("project", project),
		zap.String("phase", string(phase)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// Status assembles the per-project progress report from durable state.
func (c *Coordinator) Status(ctx context.Context, project string) (*model.Report, error) {
	report := &model.Report{
		Project:   project,
		UpdatedAt: time.Now().UTC(),
	}

	for _, phase := range model.PhaseOrder {
		state, err := c.state.GetMigrationState(ctx, project, phase)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s state: %w", phase, err)
		}

		section := model.PhaseReport{
			Phase:  phase,
			Status: state.Status,
			Error:  state.ErrorMessage,
		}

		if state.Status != model.PhaseStatusNotStarted {
			batches, err := c.state.ListBatches(ctx, project, phase)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s batches: %w", phase, err)
			}
			section.Batches = batches

			failed, err := c.state.ListFailedItems(ctx, project, phase)
			if err != nil {
				return nil, fmt.Errorf("failed to list %s failures: %w", phase, err)
			}
			section.FailedItems = failed
		}

		report.Phases = append(report.Phases, section)
	}

	return report, nil
}

// newExecutor builds a batch executor over the given phase pool.
func (c *Coordinator) newExecutor(pool *workerpool.Pool) *scheduler.Executor {
	return scheduler.NewExecutor(c.state, pool, c.metrics, c.logger)
}
