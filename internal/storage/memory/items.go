package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/cenkalti/backoff/v4"

	"github.com/beadforge/forge/internal/idgen"
	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
)

// maxHashNonce bounds hash id regeneration within a single create.
const maxHashNonce = 10

// CreateItem inserts a new item. The id is the parent's next hierarchical
// child id when opts.ParentID is set, item.ID when supplied, or a fresh hash id.
// A supplied hierarchical id (fg-abc.3) must name an existing parent in the
// same project and gets the same parent-child edge as an allocated one.
// The caller's item is not modified.
func (s *Store) CreateItem(_ context.Context, item *types.WorkItem, opts storage.CreateOptions) (*types.WorkItem, error) {
	if item == nil {
		return nil, fmt.Errorf("item is required")
	}
	var created *types.WorkItem
	err := s.mutate(func(t *txn) error {
		now := s.now()
		it := item.Clone()
		it.SetDefaults()
		it.Labels = types.NormalizeLabels(it.Labels)
		it.CreatedAt = now
		it.UpdatedAt = now
		it.StartedAt = nil
		it.CompletedAt = nil
		if it.Assignee != "" {
			it.StartedAt = &now
		}
		if it.Status == types.StatusClosed {
			it.CompletedAt = &now
		}

		parentID := opts.ParentID
		switch {
		case opts.ParentID != "":
			parent, ok := t.items[opts.ParentID]
			if !ok || parent.ProjectID != it.ProjectID {
				return fmt.Errorf("parent %s: %w", opts.ParentID, storage.ErrNotFound)
			}
			attempt := max(opts.Attempt, 1)
			it.ID = idgen.ChildID(opts.ParentID, t.childCount(opts.ParentID)+attempt)
			if _, taken := t.items[it.ID]; taken {
				return fmt.Errorf("%s: %w", it.ID, storage.ErrDuplicateID)
			}
		case it.ID != "":
			if _, taken := t.items[it.ID]; taken {
				return fmt.Errorf("%s: %w", it.ID, storage.ErrDuplicateID)
			}
			if p := idgen.ParentID(it.ID); p != "" {
				parent, ok := t.items[p]
				if !ok || parent.ProjectID != it.ProjectID {
					return fmt.Errorf("parent %s of %s: %w", p, it.ID, storage.ErrNotFound)
				}
				parentID = p
			}
		default:
			for nonce := 0; nonce < maxHashNonce; nonce++ {
				id := idgen.GenerateHashID(s.cfg.IDPrefix, it.ProjectID, it.Title, now, s.cfg.IDLength, nonce)
				if _, taken := t.items[id]; !taken {
					it.ID = id
					break
				}
			}
			if it.ID == "" {
				return fmt.Errorf("no free id after %d attempts: %w", maxHashNonce, storage.ErrDuplicateID)
			}
		}

		if err := it.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		t.nextSeq++
		it.Seq = t.nextSeq
		t.put(it)
		if parentID != "" {
			t.putEdge(&types.Dependency{
				FromID:    it.ID,
				ToID:      parentID,
				Type:      types.DepParentChild,
				CreatedAt: now,
			})
		}
		created = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// CreateItemWithRetry retries CreateItem on id collisions only, advancing the
// child sequence each attempt. When a parented id still collides and
// FallbackToStandalone is set, the item is created top-level and the result
// is marked Standalone.
func (s *Store) CreateItemWithRetry(ctx context.Context, item *types.WorkItem, opts storage.CreateOptions, retry storage.RetryOptions) (*storage.CreateResult, error) {
	maxAttempts := retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	base := max(opts.Attempt, 1)

	attempt := 0
	op := func() (*types.WorkItem, error) {
		o := opts
		o.Attempt = base + attempt
		attempt++
		created, err := s.CreateItem(ctx, item, o)
		if err == nil {
			return created, nil
		}
		if errors.Is(err, storage.ErrDuplicateID) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(maxAttempts-1)), ctx)
	created, err := backoff.RetryWithData(op, b)
	if err == nil {
		return &storage.CreateResult{Item: created}, nil
	}
	if !errors.Is(err, storage.ErrDuplicateID) || !retry.FallbackToStandalone || opts.ParentID == "" {
		return nil, fmt.Errorf("create after %d attempts: %w", attempt, err)
	}

	s.logger.Warn().Err(err).Str("parent", opts.ParentID).Str("project", item.ProjectID).
		Msg("child id kept colliding, creating standalone item")
	standalone := item.Clone()
	standalone.ID = ""
	created, err = s.CreateItem(ctx, standalone, storage.CreateOptions{})
	if err != nil {
		return nil, err
	}
	return &storage.CreateResult{Item: created, Standalone: true}, nil
}

// GetItem returns the item if it exists in the project.
func (s *Store) GetItem(_ context.Context, projectID, id string) (*types.WorkItem, error) {
	g, err := s.view()
	if err != nil {
		return nil, err
	}
	item, err := lookup(g.items, projectID, id)
	if err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

func lookup(items map[string]*types.WorkItem, projectID, id string) (*types.WorkItem, error) {
	item, ok := items[id]
	if !ok || item.ProjectID != projectID {
		return nil, fmt.Errorf("item %s in project %s: %w", id, projectID, storage.ErrNotFound)
	}
	return item, nil
}

// ListItems returns project items matching the filter.
func (s *Store) ListItems(_ context.Context, projectID string, filter types.ItemFilter) ([]*types.WorkItem, error) {
	g, err := s.view()
	if err != nil {
		return nil, err
	}
	var candidates []*types.WorkItem
	if filter.ParentID != "" {
		candidates = g.children(filter.ParentID)
	} else {
		candidates = g.projectItems(projectID)
	}

	var out []*types.WorkItem
	for _, item := range candidates {
		if item.ProjectID == projectID && filter.Matches(item) {
			out = append(out, item.Clone())
		}
	}
	types.SortItems(out, filter.Sort)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetChildren returns the direct children of parentID in insertion order.
func (s *Store) GetChildren(_ context.Context, projectID, parentID string) ([]*types.WorkItem, error) {
	g, err := s.view()
	if err != nil {
		return nil, err
	}
	if _, err := lookup(g.items, projectID, parentID); err != nil {
		return nil, err
	}
	var out []*types.WorkItem
	for _, c := range g.children(parentID) {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b *types.WorkItem) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

// UpdateItem applies a partial update. Extra is JSON-merged. startedAt is
// stamped the first time a non-empty assignee is set and never reset.
func (s *Store) UpdateItem(_ context.Context, projectID, id string, u storage.ItemUpdate) (*types.WorkItem, error) {
	var updated *types.WorkItem
	err := s.mutate(func(t *txn) error {
		cur, err := lookup(t.items, projectID, id)
		if err != nil {
			return err
		}
		now := s.now()
		it := cur.Clone()
		if u.Title != nil {
			it.Title = *u.Title
		}
		if u.Description != nil {
			it.Description = *u.Description
		}
		if u.Kind != nil {
			it.Kind = *u.Kind
		}
		if u.Priority != nil {
			it.Priority = *u.Priority
		}
		if u.Complexity != nil {
			c := *u.Complexity
			it.Complexity = &c
			if c == 0 {
				it.Complexity = nil
			}
		}
		if u.Assignee != nil {
			it.Assignee = *u.Assignee
			if it.Assignee != "" && it.StartedAt == nil {
				it.StartedAt = &now
			}
		}
		if u.Status != nil {
			it.Status = *u.Status
			if it.Status == types.StatusClosed && it.CompletedAt == nil {
				it.CompletedAt = &now
			}
		}
		if u.Labels != nil {
			it.Labels = *u.Labels
		}
		if len(u.AddLabels) > 0 {
			it.Labels = append(it.Labels, u.AddLabels...)
		}
		if len(u.RemoveLabels) > 0 {
			it.Labels = slices.DeleteFunc(it.Labels, func(l string) bool {
				return slices.Contains(u.RemoveLabels, l)
			})
		}
		it.Labels = types.NormalizeLabels(it.Labels)
		if len(u.Extra) > 0 {
			it.Extra = it.Extra.Merge(u.Extra)
		}
		it.UpdatedAt = now

		if err := it.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		t.put(it)
		updated = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// CloseItem marks the item closed. Closing an already-closed item returns
// storage.ErrAlreadyClosed, which also matches storage.ErrNotFound.
func (s *Store) CloseItem(_ context.Context, projectID, id, reason string) (*types.WorkItem, error) {
	var closed *types.WorkItem
	err := s.mutate(func(t *txn) error {
		cur, err := lookup(t.items, projectID, id)
		if err != nil {
			return err
		}
		if cur.Status == types.StatusClosed {
			return fmt.Errorf("item %s: %w", id, storage.ErrAlreadyClosed)
		}
		now := s.now()
		it := cur.Clone()
		it.Status = types.StatusClosed
		it.CloseReason = reason
		if it.CompletedAt == nil {
			it.CompletedAt = &now
		}
		it.UpdatedAt = now
		t.put(it)
		closed = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return closed.Clone(), nil
}

// ReopenItem returns an item to the open pool with no assignee.
func (s *Store) ReopenItem(_ context.Context, projectID, id string) (*types.WorkItem, error) {
	var reopened *types.WorkItem
	err := s.mutate(func(t *txn) error {
		cur, err := lookup(t.items, projectID, id)
		if err != nil {
			return err
		}
		it := cur.Clone()
		it.Status = types.StatusOpen
		it.Assignee = ""
		it.CloseReason = ""
		it.UpdatedAt = s.now()
		t.put(it)
		reopened = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reopened.Clone(), nil
}
