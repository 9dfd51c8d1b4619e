package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
)

// AddDependency inserts an edge. A second insert of the same directed pair
// is a no-op regardless of type. An item has at most one parent-child edge.
func (s *Store) AddDependency(_ context.Context, dep *types.Dependency) error {
	if dep == nil {
		return fmt.Errorf("dependency is required")
	}
	if !dep.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", storage.ErrInvalidDependency, dep.Type)
	}
	if dep.FromID == dep.ToID {
		return fmt.Errorf("%w: %s cannot depend on itself", storage.ErrInvalidDependency, dep.FromID)
	}
	return s.mutate(func(t *txn) error {
		if _, ok := t.items[dep.FromID]; !ok {
			return fmt.Errorf("item %s: %w", dep.FromID, storage.ErrNotFound)
		}
		if _, ok := t.items[dep.ToID]; !ok {
			return fmt.Errorf("item %s: %w", dep.ToID, storage.ErrNotFound)
		}
		if _, exists := t.deps[dep.Key()]; exists {
			return nil
		}
		if dep.Type == types.DepParentChild {
			if p := t.parentEdge(dep.FromID); p != "" {
				return fmt.Errorf("%w: %s is already a child of %s", storage.ErrInvalidDependency, dep.FromID, p)
			}
		}
		t.putEdge(&types.Dependency{
			FromID:    dep.FromID,
			ToID:      dep.ToID,
			Type:      dep.Type,
			CreatedAt: s.now(),
		})
		return nil
	})
}

// RemoveDependency deletes the edge from fromID to toID.
func (s *Store) RemoveDependency(_ context.Context, fromID, toID string) error {
	return s.mutate(func(t *txn) error {
		key := types.EdgeKey{FromID: fromID, ToID: toID}
		if _, ok := t.deps[key]; !ok {
			return fmt.Errorf("dependency %s -> %s: %w", fromID, toID, storage.ErrNotFound)
		}
		delete(t.deps, key)
		t.changed = true
		return nil
	})
}

// GetDependencies returns every edge that mentions id, outgoing first.
func (s *Store) GetDependencies(_ context.Context, id string) ([]*types.Dependency, error) {
	g, err := s.view()
	if err != nil {
		return nil, err
	}
	if _, ok := g.items[id]; !ok {
		return nil, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	out := make([]*types.Dependency, 0, len(g.outgoing[id])+len(g.incoming[id]))
	for _, d := range g.outgoing[id] {
		c := *d
		out = append(out, &c)
	}
	incoming := make([]*types.Dependency, 0, len(g.incoming[id]))
	for _, d := range g.incoming[id] {
		c := *d
		incoming = append(incoming, &c)
	}
	sortEdges(out)
	sortEdges(incoming)
	return append(out, incoming...), nil
}

func sortEdges(deps []*types.Dependency) {
	slices.SortFunc(deps, func(a, b *types.Dependency) int {
		return cmp.Or(strings.Compare(a.FromID, b.FromID), strings.Compare(a.ToID, b.ToID))
	})
}
