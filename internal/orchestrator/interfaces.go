package orchestrator

import (
	"context"

	"github.com/beadforge/forge/internal/archive"
	"github.com/beadforge/forge/internal/contextpack"
	"github.com/beadforge/forge/internal/eventbus"
	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
	"github.com/beadforge/forge/internal/worker"
)

// Store is the subset of storage.Storage the control loop needs.
// Extracted to enable testing with fakes.
type Store interface {
	GetReadyWork(ctx context.Context, projectID string) ([]*types.WorkItem, error)
	AreAllBlockersClosed(ctx context.Context, id string) (bool, error)
	GetItem(ctx context.Context, projectID, id string) (*types.WorkItem, error)
	UpdateItem(ctx context.Context, projectID, id string, update storage.ItemUpdate) (*types.WorkItem, error)
	CloseItem(ctx context.Context, projectID, id, reason string) (*types.WorkItem, error)
	ReopenItem(ctx context.Context, projectID, id string) (*types.WorkItem, error)
}

// Assembler writes the per-attempt context bundle.
type Assembler interface {
	Assemble(ctx context.Context, req contextpack.Request) (*contextpack.Bundle, error)
}

// Archiver records finished sessions.
type Archiver interface {
	Record(ctx context.Context, s *archive.Session) error
}

// ProfileSelector picks the worker profile for an item.
type ProfileSelector interface {
	ForComplexity(role worker.Role, complexity *int) (worker.Profile, error)
}

// Deployer is notified after an item merges. Failures are logged only.
type Deployer interface {
	Trigger(ctx context.Context, projectID, itemID string) error
}

// EventSink receives fire-and-forget status broadcasts.
type EventSink interface {
	Publish(ctx context.Context, event *eventbus.Event)
}

var (
	_ Store     = (storage.Storage)(nil)
	_ Archiver  = (*archive.Archive)(nil)
	_ Assembler = (*contextpack.Assembler)(nil)
	_ EventSink = (*eventbus.Bus)(nil)
)
