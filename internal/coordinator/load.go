package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/resilience"
	"github.com/heymumford/ztoq/internal/store"
)

// parentKinds gives the entity kind a ParentRef points at, used to resolve
// the reference through the identifier map at load time.
var parentKinds = map[model.EntityKind]model.EntityKind{
	model.KindFolder:        model.KindFolder,
	model.KindCustomField:   model.KindProject,
	model.KindTestCase:      model.KindFolder,
	model.KindTestStep:      model.KindTestCase,
	model.KindTestCycle:     model.KindFolder,
	model.KindTestExecution: model.KindTestCycle,
	model.KindAttachment:    model.KindTestCase,
}

// runLoad creates transformed entities in the target system, one dependency
// level at a time. Kinds within a level never reference each other, so they
// load concurrently; a level must fully finish before the next starts so
// every reference a later kind resolves already has its mapping.
func (c *Coordinator) runLoad(ctx context.Context, project string) (int, error) {
	executor := c.newExecutor(c.loadPool)
	totalFailed := 0

	for _, level := range model.KindLevels {
		var (
			mu          sync.Mutex
			levelFailed int
		)
		g, gctx := errgroup.WithContext(ctx)

		for _, kind := range level {
			kind := kind
			g.Go(func() error {
				sourceIDs, err := c.entities.ListSourceIDs(gctx, project, kind)
				if err != nil {
					return fmt.Errorf("failed to list %s ids: %w", kind, err)
				}
				if len(sourceIDs) == 0 {
					return nil
				}

				failed, err := executor.RunKind(gctx, project, model.PhaseLoad, kind, sourceIDs, c.cfg.BatchSize, c.loadItem)
				mu.Lock()
				levelFailed += failed
				mu.Unlock()
				return err
			})
		}

		if err := g.Wait(); err != nil {
			return totalFailed + levelFailed, err
		}
		totalFailed += levelFailed

		// An item that failed to load has no mapping; anything in a later
		// level referencing it would fail anyway, so stop at the level
		// boundary and let a re-run retry the failures first.
		if levelFailed > 0 {
			return totalFailed, nil
		}
	}

	return totalFailed, nil
}

// loadItem creates one entity in the target system and durably records the
// identifier mapping in the same transaction as the item's completion.
func (c *Coordinator) loadItem(ctx context.Context, batch *model.Batch, sourceID string) error {
	start := time.Now()

	// A mapping from an earlier run means the create already happened;
	// re-creating would duplicate the entity in the target.
	if _, err := c.entities.GetMapping(ctx, batch.Project, batch.Kind, sourceID); err == nil {
		return c.recorder.RecordProcessed(ctx, batch.Project, model.PhaseLoad, batch.Kind, batch.BatchNumber, sourceID)
	} else if !errors.Is(err, store.ErrMappingNotFound) {
		return fmt.Errorf("failed to check mapping for %s %s: %w", batch.Kind, sourceID, err)
	}

	entity, err := c.entities.GetEntity(ctx, batch.Project, batch.Kind, sourceID)
	if err != nil {
		return fmt.Errorf("failed to read staged %s %s: %w", batch.Kind, sourceID, err)
	}
	if entity.Transformed == nil {
		return resilience.FatalItem(fmt.Errorf("%s %s was never transformed", batch.Kind, sourceID))
	}

	item, err := c.resolveReferences(ctx, batch.Project, entity.Transformed)
	if err != nil {
		return err
	}

	var targetID string
	if batch.Kind == model.KindAttachment {
		targetID, err = c.loadAttachment(ctx, batch.Project, sourceID, item)
	} else {
		targetID, err = c.target.Create(ctx, batch.Project, item)
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordItem(string(model.PhaseLoad), string(batch.Kind), true, time.Since(start).Seconds())
		}
		return err
	}

	if err := c.recorder.RecordLoaded(ctx, batch.Project, model.PhaseLoad, batch.Kind, batch.BatchNumber, sourceID, targetID); err != nil {
		return fmt.Errorf("failed to record loaded %s %s: %w", batch.Kind, sourceID, err)
	}

	if c.metrics != nil {
		c.metrics.RecordItem(string(model.PhaseLoad), string(batch.Kind), false, time.Since(start).Seconds())
	}
	return nil
}

// loadAttachment streams the blob from the source and uploads it under the
// already-resolved parent entity.
func (c *Coordinator) loadAttachment(ctx context.Context, project, sourceID string, item *model.TargetItem) (string, error) {
	if item.ParentRef == "" {
		return "", resilience.FatalItem(fmt.Errorf("attachment %s has no parent", sourceID))
	}

	blob, filename, err := c.source.GetAttachment(ctx, project, sourceID)
	if err != nil {
		return "", fmt.Errorf("failed to download attachment %s: %w", sourceID, err)
	}
	if item.Name != "" {
		filename = item.Name
	}

	return c.target.UploadAttachment(ctx, project, item.ParentRef, filename, blob)
}

// resolveReferences returns a copy of the transformed item with every
// source-id reference replaced by its target id. A missing mapping is a
// hard item failure: the dependency was never loaded, and retrying cannot
// fix that.
func (c *Coordinator) resolveReferences(ctx context.Context, project string, transformed *model.TargetItem) (*model.TargetItem, error) {
	item := *transformed

	if item.ParentRef != "" {
		parentKind, ok := parentKinds[item.Kind]
		if !ok {
			return nil, resilience.FatalItem(fmt.Errorf("%s cannot carry a parent reference", item.Kind))
		}
		targetID, err := c.entities.GetMapping(ctx, project, parentKind, item.ParentRef)
		if err != nil {
			if errors.Is(err, store.ErrMappingNotFound) {
				return nil, resilience.FatalItem(fmt.Errorf("unresolved parent %s %s for %s %s: %w",
					parentKind, item.ParentRef, item.Kind, item.SourceID, err))
			}
			return nil, fmt.Errorf("failed to resolve parent of %s %s: %w", item.Kind, item.SourceID, err)
		}
		item.ParentRef = targetID
	}

	if len(transformed.Refs) > 0 {
		item.Refs = make(map[model.EntityKind]string, len(transformed.Refs))
		for refKind, refID := range transformed.Refs {
			targetID, err := c.entities.GetMapping(ctx, project, refKind, refID)
			if err != nil {
				if errors.Is(err, store.ErrMappingNotFound) {
					return nil, resilience.FatalItem(fmt.Errorf("unresolved %s %s for %s %s: %w",
						refKind, refID, item.Kind, item.SourceID, err))
				}
				return nil, fmt.Errorf("failed to resolve %s reference of %s %s: %w", refKind, item.Kind, item.SourceID, err)
			}
			item.Refs[refKind] = targetID
		}
	}

	return &item, nil
}
