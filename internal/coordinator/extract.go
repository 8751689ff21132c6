package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/store"
)

// cursorDone marks a kind whose source enumeration is exhausted, so a
// resumed extract does not restart it from page one.
const cursorDone = "done"

// runExtract pages every entity kind out of the source system into the
// entity store. Kinds are independent reads, so they run concurrently;
// the pagination cursor is checkpointed after every page so a restart
// resumes mid-enumeration.
func (c *Coordinator) runExtract(ctx context.Context, project string) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ExtractWorkers)

	for _, kind := range model.AllKinds() {
		kind := kind
		g.Go(func() error {
			return c.extractKind(gctx, project, kind)
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	// The enumeration is complete; clear the cursors so a future run
	// against the same project starts fresh.
	for _, kind := range model.AllKinds() {
		if err := c.checkpoints.DeleteCursor(ctx, project, kind); err != nil {
			c.logger.Warn("Failed to clear extraction cursor",
				zap.String("project", project),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
	}
	return 0, nil
}

// extractKind drains one kind's paginated enumeration into the store.
func (c *Coordinator) extractKind(ctx context.Context, project string, kind model.EntityKind) error {
	cursor, err := c.checkpoints.GetCursor(ctx, project, kind)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to read %s cursor: %w", kind, err)
	}
	if cursor == cursorDone {
		c.logger.Debug("Extraction already complete for kind",
			zap.String("project", project),
			zap.String("kind", string(kind)))
		return nil
	}

	total := 0
	for {
		page, err := c.source.ListEntities(ctx, project, kind, cursor)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", kind, err)
		}

		for _, item := range page.Items {
			if err := c.entities.PutExtracted(ctx, project, item); err != nil {
				return fmt.Errorf("failed to stage %s %s: %w", kind, item.ID, err)
			}
			if c.metrics != nil {
				c.metrics.RecordItem(string(model.PhaseExtract), string(kind), false, 0)
			}
		}
		total += len(page.Items)

		if page.Done {
			if err := c.checkpoints.SetCursor(ctx, project, kind, cursorDone); err != nil {
				return fmt.Errorf("failed to checkpoint %s cursor: %w", kind, err)
			}
			break
		}

		cursor = page.NextPageToken
		if err := c.checkpoints.SetCursor(ctx, project, kind, cursor); err != nil {
			return fmt.Errorf("failed to checkpoint %s cursor: %w", kind, err)
		}
	}

	c.logger.Info("Extraction finished for kind",
		zap.String("project", project),
		zap.String("kind", string(kind)),
		zap.Int("items", total))
	return nil
}
