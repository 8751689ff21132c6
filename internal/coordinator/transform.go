package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/resilience"
)

// runTransform converts every staged entity into target shape. Transforms
// are pure per-item functions, so batches of any kind run freely on the
// transform pool; a transform error is always an item failure, never a
// batch failure.
func (c *Coordinator) runTransform(ctx context.Context, project string) (int, error) {
	executor := c.newExecutor(c.transformPool)
	totalFailed := 0

	for _, kind := range model.AllKinds() {
		sourceIDs, err := c.entities.ListSourceIDs(ctx, project, kind)
		if err != nil {
			return totalFailed, fmt.Errorf("failed to list %s ids: %w", kind, err)
		}
		if len(sourceIDs) == 0 {
			continue
		}

		failed, err := executor.RunKind(ctx, project, model.PhaseTransform, kind, sourceIDs, c.cfg.BatchSize, c.transformItem)
		totalFailed += failed
		if err != nil {
			return totalFailed, err
		}
	}

	return totalFailed, nil
}

// transformItem maps one staged entity and records the result.
func (c *Coordinator) transformItem(ctx context.Context, batch *model.Batch, sourceID string) error {
	start := time.Now()

	entity, err := c.entities.GetEntity(ctx, batch.Project, batch.Kind, sourceID)
	if err != nil {
		return fmt.Errorf("failed to read staged %s %s: %w", batch.Kind, sourceID, err)
	}

	target, warnings, err := c.engine.Transform(entity.Source)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordItem(string(model.PhaseTransform), string(batch.Kind), true, time.Since(start).Seconds())
		}
		return resilience.FatalItem(fmt.Errorf("transform failed for %s %s: %w", batch.Kind, sourceID, err))
	}

	if err := c.entities.PutTransformed(ctx, batch.Project, batch.Kind, sourceID, target, warnings); err != nil {
		return fmt.Errorf("failed to store transformed %s %s: %w", batch.Kind, sourceID, err)
	}
	if err := c.recorder.RecordProcessed(ctx, batch.Project, model.PhaseTransform, batch.Kind, batch.BatchNumber, sourceID); err != nil {
		return fmt.Errorf("failed to record transformed %s %s: %w", batch.Kind, sourceID, err)
	}

	if c.metrics != nil {
		c.metrics.RecordItem(string(model.PhaseTransform), string(batch.Kind), false, time.Since(start).Seconds())
		for _, warning := range warnings {
			c.metrics.RecordWarning(string(batch.Kind), string(warning.Code))
		}
	}
	return nil
}
