package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heymumford/ztoq/internal/metrics"
	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/resilience"
	"github.com/heymumford/ztoq/internal/store"
	"github.com/heymumford/ztoq/internal/workerpool"
)

// ItemFunc processes one item of a batch. It is responsible for recording
// its own durable success (through the Recorder); the executor only records
// failures and batch transitions.
type ItemFunc func(ctx context.Context, batch *model.Batch, sourceID string) error

// Executor drives one entity kind's batches through a phase. Batches run
// concurrently on the phase's worker pool; items within a batch run
// sequentially. Item failures are recorded and skipped, batch failures
// abort the batch, and completed batches are skipped entirely on resume.
type Executor struct {
	state   store.StateStore
	pool    *workerpool.Pool
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewExecutor creates a batch executor over a phase worker pool
func NewExecutor(state store.StateStore, pool *workerpool.Pool, m *metrics.Metrics, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{state: state, pool: pool, metrics: m, logger: logger}
}

// RunKind partitions itemIDs, skips batches and items that already
// completed in an earlier run, and executes the rest. It returns the number
// of failed items, and an error only when a batch could make no further
// progress.
func (e *Executor) RunKind(
	ctx context.Context,
	project string,
	phase model.Phase,
	kind model.EntityKind,
	itemIDs []string,
	batchSize int,
	fn ItemFunc,
) (int, error) {
	batches := Partition(project, phase, kind, itemIDs, batchSize)
	if len(batches) == 0 {
		return 0, nil
	}

	completed, err := e.completedBatches(ctx, project, phase, kind)
	if err != nil {
		return 0, err
	}
	processed, err := e.state.ListProcessedItems(ctx, project, phase, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to list processed items: %w", err)
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		failedItems int
		batchErr    error
	)

	for _, batch := range batches {
		if completed[batch.BatchNumber] {
			if e.metrics != nil {
				e.metrics.RecordBatchSkipped(string(phase), string(kind))
			}
			e.logger.Debug("Skipping completed batch",
				zap.String("project", project),
				zap.String("phase", string(phase)),
				zap.String("kind", string(kind)),
				zap.Int("batch", batch.BatchNumber))
			continue
		}

		// Cancellation is honored at batch boundaries; a started batch
		// finishes its current item first.
		if err := ctx.Err(); err != nil {
			mu.Lock()
			if batchErr == nil {
				batchErr = resilience.FatalBatch(err)
			}
			mu.Unlock()
			break
		}

		if err := e.state.UpsertBatch(ctx, batch); err != nil {
			mu.Lock()
			if batchErr == nil {
				batchErr = fmt.Errorf("failed to persist batch %d: %w", batch.BatchNumber, err)
			}
			mu.Unlock()
			break
		}

		b := batch
		wg.Add(1)
		task := workerpool.Task{
			ID:      fmt.Sprintf("%s.%s.%s.%d", project, phase, kind, b.BatchNumber),
			Context: ctx,
			Fn: func(taskCtx context.Context) error {
				defer wg.Done()
				failed, err := e.runBatch(taskCtx, b, processed, fn)
				mu.Lock()
				failedItems += failed
				if err != nil && batchErr == nil {
					batchErr = err
				}
				mu.Unlock()
				return err
			},
		}
		if err := e.pool.Submit(ctx, task); err != nil {
			wg.Done()
			mu.Lock()
			if batchErr == nil {
				batchErr = err
			}
			mu.Unlock()
			break
		}
	}

	wg.Wait()
	return failedItems, batchErr
}

// runBatch executes one batch's items in order, skipping items that
// already succeeded. The batch completes only when every item is
// processed; otherwise it is marked failed so a later run retries it.
func (e *Executor) runBatch(ctx context.Context, batch *model.Batch, processed map[string]bool, fn ItemFunc) (int, error) {
	if err := e.state.UpdateBatchStatus(ctx, batch.Project, batch.Phase, batch.Kind, batch.BatchNumber, model.BatchStatusInProgress, ""); err != nil {
		return 0, fmt.Errorf("failed to start batch %d: %w", batch.BatchNumber, err)
	}
	start := time.Now()

	var (
		succeeded int
		failed    int
		abortErr  error
	)

	for _, sourceID := range batch.ItemIDs {
		if processed[sourceID] {
			succeeded++
			continue
		}

		err := fn(ctx, batch, sourceID)
		if err == nil {
			succeeded++
			continue
		}

		if resilience.ClassOf(err) == resilience.ClassFatalItem {
			failed++
			e.logger.Warn("Item failed",
				zap.String("project", batch.Project),
				zap.String("phase", string(batch.Phase)),
				zap.String("kind", string(batch.Kind)),
				zap.String("source_id", sourceID),
				zap.Error(err))
			if recordErr := e.state.RecordItemFailure(ctx, batch.Project, batch.Phase, batch.Kind, sourceID, err.Error()); recordErr != nil {
				abortErr = fmt.Errorf("failed to record item failure: %w", recordErr)
				break
			}
			continue
		}

		// Transient errors reaching this point have exhausted their
		// retries; like batch-fatal errors they stop the batch.
		abortErr = err
		break
	}

	status := model.BatchStatusCompleted
	lastError := ""
	if abortErr != nil {
		status = model.BatchStatusFailed
		lastError = abortErr.Error()
	} else if failed > 0 {
		status = model.BatchStatusFailed
		lastError = fmt.Sprintf("%d of %d items failed", failed, batch.TotalItems)
	}

	if err := e.state.UpdateBatchStatus(ctx, batch.Project, batch.Phase, batch.Kind, batch.BatchNumber, status, lastError); err != nil {
		return failed, fmt.Errorf("failed to finish batch %d: %w", batch.BatchNumber, err)
	}
	if e.metrics != nil {
		e.metrics.RecordBatch(string(batch.Phase), string(batch.Kind), string(status), time.Since(start).Seconds())
	}

	e.logger.Info("Batch finished",
		zap.String("project", batch.Project),
		zap.String("phase", string(batch.Phase)),
		zap.String("kind", string(batch.Kind)),
		zap.Int("batch", batch.BatchNumber),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.String("status", string(status)))

	return failed, abortErr
}

// completedBatches returns the batch numbers of this kind that finished in
// an earlier run.
func (e *Executor) completedBatches(ctx context.Context, project string, phase model.Phase, kind model.EntityKind) (map[int]bool, error) {
	existing, err := e.state.ListBatches(ctx, project, phase)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	completed := make(map[int]bool)
	for _, batch := range existing {
		if batch.Kind == kind && batch.Status == model.BatchStatusCompleted {
			completed[batch.BatchNumber] = true
		}
	}
	return completed, nil
}
