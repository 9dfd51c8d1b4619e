// Package storage defines the task graph store contract shared by the
// concrete implementation in the memory sub-package and its consumers
// (the orchestrator, cmd/forge, the telemetry wrapper).
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/beadforge/forge/internal/types"
)

// ErrNotInitialized is returned when the store is used before Init.
var ErrNotInitialized = errors.New("store not initialized")

// ErrNotFound is returned when a requested entity does not exist, or does
// not exist in the requested project.
var ErrNotFound = errors.New("not found")

// ErrAlreadyClosed is returned when closing an item that is already closed.
// It wraps ErrNotFound so callers that treat re-close as "nothing to do"
// only need a single errors.Is check.
var ErrAlreadyClosed = fmt.Errorf("already closed: %w", ErrNotFound)

// ErrDuplicateID is returned when an allocated or supplied id is already taken.
var ErrDuplicateID = errors.New("duplicate id")

// ErrCorruptPersistence is returned when a durable file fails its integrity check.
var ErrCorruptPersistence = errors.New("corrupt persistence")

// ErrLocked is returned when another process holds the store's file lock.
var ErrLocked = errors.New("store locked by another process")

// ErrEmptyGraphGuard is returned when a flush would replace a non-empty
// durable graph with an empty one that the store did not empty itself.
var ErrEmptyGraphGuard = errors.New("refusing to overwrite non-empty graph with empty graph")

// ErrInvalidDependency is returned for self edges and unknown edge types.
var ErrInvalidDependency = errors.New("invalid dependency")

// CreateOptions controls id allocation for a new item.
type CreateOptions struct {
	// ParentID requests a hierarchical child id and a parent-child edge.
	ParentID string
	// Attempt offsets the child sequence number: the child id suffix is
	// the parent's current child count plus Attempt. Zero means 1.
	Attempt int
}

// RetryOptions bounds CreateItemWithRetry.
type RetryOptions struct {
	MaxAttempts int // Zero means 3
	// FallbackToStandalone creates a top-level item when a parented id keeps colliding.
	FallbackToStandalone bool
}

// CreateResult is returned by CreateItemWithRetry.
type CreateResult struct {
	Item *types.WorkItem
	// Standalone is set when the item was created, but without the requested
	// parent. Callers should treat it as success with a caveat.
	Standalone bool
}

// ItemUpdate carries a partial update. Nil fields are left unchanged.
type ItemUpdate struct {
	Title        *string
	Description  *string
	Kind         *types.ItemKind
	Status       *types.Status
	Priority     *int
	Assignee     *string
	Complexity   *int
	Labels       *[]string // Replaces the whole set
	AddLabels    []string
	RemoveLabels []string
	// Extra is merged into the existing attributes: present keys overwrite,
	// absent keys are preserved.
	Extra types.Attributes
}

// IsEmpty reports whether the update changes nothing.
func (u *ItemUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Kind == nil && u.Status == nil &&
		u.Priority == nil && u.Assignee == nil && u.Complexity == nil && u.Labels == nil &&
		len(u.AddLabels) == 0 && len(u.RemoveLabels) == 0 && len(u.Extra) == 0
}

// Storage is the interface satisfied by *memory.Store.
// Consumers depend on this interface rather than on the concrete type so that
// alternative implementations (instrumented wrappers, fakes) can be substituted.
type Storage interface {
	// Item CRUD
	CreateItem(ctx context.Context, item *types.WorkItem, opts CreateOptions) (*types.WorkItem, error)
	CreateItemWithRetry(ctx context.Context, item *types.WorkItem, opts CreateOptions, retry RetryOptions) (*CreateResult, error)
	GetItem(ctx context.Context, projectID, id string) (*types.WorkItem, error)
	ListItems(ctx context.Context, projectID string, filter types.ItemFilter) ([]*types.WorkItem, error)
	UpdateItem(ctx context.Context, projectID, id string, update ItemUpdate) (*types.WorkItem, error)
	CloseItem(ctx context.Context, projectID, id, reason string) (*types.WorkItem, error)
	ReopenItem(ctx context.Context, projectID, id string) (*types.WorkItem, error)

	// Dependencies
	AddDependency(ctx context.Context, dep *types.Dependency) error
	RemoveDependency(ctx context.Context, fromID, toID string) error
	GetDependencies(ctx context.Context, id string) ([]*types.Dependency, error)
	GetChildren(ctx context.Context, projectID, parentID string) ([]*types.WorkItem, error)

	// Work queries
	GetReadyWork(ctx context.Context, projectID string) ([]*types.WorkItem, error)
	GetBlockedItems(ctx context.Context, projectID string) ([]*types.BlockedItem, error)
	AreAllBlockersClosed(ctx context.Context, id string) (bool, error)
	GetBlockers(ctx context.Context, id string) ([]string, error)

	// Deletion
	DeleteItems(ctx context.Context, ids []string) (int, error)
	DeleteProject(ctx context.Context, projectID string) (int, error)

	// Statistics
	GetStatistics(ctx context.Context, projectID string) (*types.Statistics, error)

	// Lifecycle
	Flush(ctx context.Context) error
	Close() error
}
