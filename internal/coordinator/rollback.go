package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/heymumford/ztoq/internal/model"
)

// Rollback undoes the requested phases for a project, or every phase when
// none are named. Phases are undone in reverse order, each one's durable
// state reset to not_started, and earlier phases are left untouched, so
// rolling back load alone keeps the extracted and transformed data for a
// corrected re-run.
func (c *Coordinator) Rollback(ctx context.Context, project string, phases ...model.Phase) error {
	if len(phases) == 0 {
		phases = model.PhaseOrder
	}
	requested := make(map[model.Phase]bool, len(phases))
	for _, phase := range phases {
		if !model.IsValidPhase(phase) {
			return fmt.Errorf("unknown phase: %s", phase)
		}
		requested[phase] = true
	}

	for i := len(model.PhaseOrder) - 1; i >= 0; i-- {
		phase := model.PhaseOrder[i]
		if !requested[phase] {
			continue
		}

		switch phase {
		case model.PhaseLoad:
			if err := c.rollbackLoad(ctx, project); err != nil {
				return err
			}
		case model.PhaseExtract:
			if err := c.rollbackExtract(ctx, project); err != nil {
				return err
			}
		}

		if err := c.state.DeletePhaseState(ctx, project, phase); err != nil {
			return fmt.Errorf("failed to clear %s state: %w", phase, err)
		}
		c.logger.Info("Rolled back phase",
			zap.String("project", project),
			zap.String("phase", string(phase)))
	}

	c.logger.Info("Rollback completed", zap.String("project", project))
	return nil
}

// rollbackLoad deletes everything the load phase created in the target
// system. Kinds are walked in reverse dependency order and mappings within
// a kind newest-first, so no entity is deleted before its dependents.
func (c *Coordinator) rollbackLoad(ctx context.Context, project string) error {
	kinds := model.AllKinds()

	for i := len(kinds) - 1; i >= 0; i-- {
		kind := kinds[i]

		mappings, err := c.entities.ListMappings(ctx, project, kind)
		if err != nil {
			return fmt.Errorf("failed to list %s mappings: %w", kind, err)
		}

		for _, mapping := range mappings {
			// Attachments are deleted with their parent by the target
			// system; deleting them individually would double-delete.
			if kind == model.KindAttachment {
				continue
			}
			if err := c.target.Delete(ctx, project, kind, mapping.TargetID); err != nil {
				return fmt.Errorf("failed to delete %s %s: %w", kind, mapping.TargetID, err)
			}
		}

		if err := c.entities.DeleteMappings(ctx, project, kind); err != nil {
			return fmt.Errorf("failed to clear %s mappings: %w", kind, err)
		}

		c.logger.Info("Rolled back kind",
			zap.String("project", project),
			zap.String("kind", string(kind)),
			zap.Int("deleted", len(mappings)))
	}
	return nil
}

// rollbackExtract clears the staged source snapshot and the page cursors.
func (c *Coordinator) rollbackExtract(ctx context.Context, project string) error {
	for _, kind := range model.AllKinds() {
		if err := c.entities.DeleteEntities(ctx, project, kind); err != nil {
			return fmt.Errorf("failed to clear staged %s entities: %w", kind, err)
		}
		if err := c.checkpoints.DeleteCursor(ctx, project, kind); err != nil {
			c.logger.Warn("Failed to clear extraction cursor",
				zap.String("project", project),
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
	}
	return nil
}
