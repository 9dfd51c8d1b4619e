package memory

import (
	"context"
	"fmt"

	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
)

// GetReadyWork returns non-epic open items whose blockers are all closed and
// whose containing epic is not blocked, by priority then insertion order.
func (s *Store) GetReadyWork(_ context.Context, projectID string) ([]*types.WorkItem, error) {
	g, err := s.view()
	if err != nil {
		return nil, err
	}
	var out []*types.WorkItem
	for _, item := range g.projectItems(projectID) {
		if g.isReady(item) {
			out = append(out, item.Clone())
		}
	}
	types.SortItems(out, nil)
	return out, nil
}

// GetBlockedItems returns unclosed work items held back by an open blocker,
// a blocked epic, or their own blocked status.
func (s *Store) GetBlockedItems(_ context.Context, projectID string) ([]*types.BlockedItem, error) {
	g, err := s.view()
	if err != nil {
		return nil, err
	}
	var items []*types.WorkItem
	for _, item := range g.projectItems(projectID) {
		if item.Status == types.StatusClosed || item.Kind.IsContainer() {
			continue
		}
		items = append(items, item)
	}
	types.SortItems(items, nil)

	var out []*types.BlockedItem
	for _, item := range items {
		open := g.openBlockers(item.ID)
		var epicID string
		if epic := g.containingEpic(item.ID); epic != nil && epic.Status == types.StatusBlocked {
			epicID = epic.ID
		}
		if len(open) == 0 && epicID == "" && item.Status != types.StatusBlocked {
			continue
		}
		out = append(out, &types.BlockedItem{
			WorkItem:       *item.Clone(),
			BlockedByCount: len(open),
			BlockedBy:      open,
			EpicBlocked:    epicID,
		})
	}
	return out, nil
}

// AreAllBlockersClosed reports whether every blocks-edge target of id is closed.
func (s *Store) AreAllBlockersClosed(_ context.Context, id string) (bool, error) {
	g, err := s.view()
	if err != nil {
		return false, err
	}
	if _, ok := g.items[id]; !ok {
		return false, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	return len(g.openBlockers(id)) == 0, nil
}

// GetBlockers returns the ids id has blocks edges to, open or closed.
func (s *Store) GetBlockers(_ context.Context, id string) ([]string, error) {
	g, err := s.view()
	if err != nil {
		return nil, err
	}
	if _, ok := g.items[id]; !ok {
		return nil, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	return g.blockers(id), nil
}

// GetStatistics aggregates counts for one project.
func (s *Store) GetStatistics(_ context.Context, projectID string) (*types.Statistics, error) {
	g, err := s.view()
	if err != nil {
		return nil, err
	}
	stats := &types.Statistics{}
	ids := make(map[string]bool)
	for _, item := range g.projectItems(projectID) {
		ids[item.ID] = true
		stats.TotalItems++
		if item.Kind.IsContainer() {
			stats.Epics++
		}
		switch item.Status {
		case types.StatusOpen:
			stats.OpenItems++
		case types.StatusInProgress:
			stats.InProgressItems++
		case types.StatusBlocked:
			stats.BlockedItems++
		case types.StatusClosed:
			stats.ClosedItems++
		}
		if g.isReady(item) {
			stats.ReadyItems++
		}
	}
	for k := range g.deps {
		if ids[k.FromID] {
			stats.Dependencies++
		}
	}
	return stats, nil
}
