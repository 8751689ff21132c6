package client

import (
	"context"

	"github.com/heymumford/ztoq/internal/model"
)

// Page is one page of a lazy, restartable entity enumeration. Ordering is
// stable across calls for a given snapshot, and NextPageToken resumes the
// enumeration after a process restart.
type Page struct {
	Items         []*model.SourceItem
	NextPageToken string
	Done          bool
}

// SourceReader is the typed, paginated accessor over the source system.
type SourceReader interface {
	// CheckAuth verifies the API token before any phase starts
	CheckAuth(ctx context.Context) error
	// ListEntities returns one page of entities of a kind. An empty
	// pageToken starts the enumeration from the beginning.
	ListEntities(ctx context.Context, project string, kind model.EntityKind, pageToken string) (*Page, error)
	// GetAttachment downloads one attachment blob and its filename
	GetAttachment(ctx context.Context, project, attachmentID string) ([]byte, string, error)
}

// TargetWriter is the typed creator/updater over the target system. Create
// must be called at most once per source item; the caller is responsible
// for not re-calling after a recorded success.
type TargetWriter interface {
	// CheckAuth verifies the API token before any phase starts
	CheckAuth(ctx context.Context) error
	// Create creates one entity and returns its target id
	Create(ctx context.Context, project string, item *model.TargetItem) (string, error)
	// Update overwrites an already-created entity
	Update(ctx context.Context, project, targetID string, item *model.TargetItem) error
	// Delete removes a target entity, used only by rollback
	Delete(ctx context.Context, project string, kind model.EntityKind, targetID string) error
	// UploadAttachment attaches a blob to an already-created parent entity
	UploadAttachment(ctx context.Context, project, parentTargetID, filename string, blob []byte) (string, error)
}
