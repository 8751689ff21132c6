package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/store"
)

// runValidate checks that every extracted entity ended up with an
// identifier mapping, meaning it exists in the target. Gaps are recorded
// as item failures so the status report names exactly what is missing.
func (c *Coordinator) runValidate(ctx context.Context, project string) (int, error) {
	missing := 0

	for _, kind := range model.AllKinds() {
		sourceIDs, err := c.entities.ListSourceIDs(ctx, project, kind)
		if err != nil {
			return missing, fmt.Errorf("failed to list %s ids: %w", kind, err)
		}

		kindMissing := 0
		for _, sourceID := range sourceIDs {
			_, err := c.entities.GetMapping(ctx, project, kind, sourceID)
			if err == nil {
				continue
			}
			if !errors.Is(err, store.ErrMappingNotFound) {
				return missing, fmt.Errorf("failed to check mapping for %s %s: %w", kind, sourceID, err)
			}

			kindMissing++
			if recordErr := c.state.RecordItemFailure(ctx, project, model.PhaseValidate, kind, sourceID, "no target mapping"); recordErr != nil {
				return missing, fmt.Errorf("failed to record validation gap: %w", recordErr)
			}
		}

		missing += kindMissing
		c.logger.Info("Validated kind",
			zap.String("project", project),
			zap.String("kind", string(kind)),
			zap.Int("total", len(sourceIDs)),
			zap.Int("missing", kindMissing))
	}

	return missing, nil
}
