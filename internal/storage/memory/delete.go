package memory

import (
	"context"
)

// DeleteItems removes the items and every edge that mentions them in one
// atomic batch. Unknown ids are ignored. Returns the number of items removed.
func (s *Store) DeleteItems(_ context.Context, ids []string) (int, error) {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return s.deleteSet(func(*txn) map[string]bool { return set })
}

// DeleteProject removes every item of the project and their edges.
func (s *Store) DeleteProject(_ context.Context, projectID string) (int, error) {
	return s.deleteSet(func(t *txn) map[string]bool {
		set := make(map[string]bool)
		for id, item := range t.items {
			if item.ProjectID == projectID {
				set[id] = true
			}
		}
		return set
	})
}

func (s *Store) deleteSet(selectIDs func(*txn) map[string]bool) (int, error) {
	var n int
	err := s.mutate(func(t *txn) error {
		n = t.deleteItems(selectIDs(t))
		if n > 0 {
			s.deletedSinceLoad.Store(true)
		}
		return nil
	})
	return n, err
}
