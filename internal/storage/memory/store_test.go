package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
)

const testProject = "proj"

// newTestStore returns an initialized in-memory store.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, title string, mods ...func(*types.WorkItem)) *types.WorkItem {
	t.Helper()
	item := &types.WorkItem{ProjectID: testProject, Title: title, Priority: 2}
	for _, m := range mods {
		m(item)
	}
	created, err := s.CreateItem(context.Background(), item, storage.CreateOptions{})
	require.NoError(t, err)
	return created
}

func strPtr(s string) *string { return &s }

func TestOperationsBeforeInit(t *testing.T) {
	ctx := context.Background()
	s := New(Config{Logger: zerolog.Nop()})

	_, err := s.CreateItem(ctx, &types.WorkItem{ProjectID: testProject, Title: "x"}, storage.CreateOptions{})
	assert.ErrorIs(t, err, storage.ErrNotInitialized)
	_, err = s.GetReadyWork(ctx, testProject)
	assert.ErrorIs(t, err, storage.ErrNotInitialized)
	assert.ErrorIs(t, s.Flush(ctx), storage.ErrNotInitialized)
}

func TestOperationsAfterClose(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	_, err := s.GetItem(context.Background(), testProject, "fg-x")
	assert.ErrorIs(t, err, storage.ErrNotInitialized)
	assert.NoError(t, s.Close(), "close is idempotent")
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	item := &types.WorkItem{ProjectID: testProject, Title: "First", Labels: []string{"b", "a", "a"}}
	created, err := s.CreateItem(ctx, item, storage.CreateOptions{})
	require.NoError(t, err)

	assert.Empty(t, item.ID, "caller's item must not be modified")
	assert.Regexp(t, `^fg-[0-9a-z]{6}$`, created.ID)
	assert.Equal(t, types.StatusOpen, created.Status)
	assert.Equal(t, types.KindTask, created.Kind)
	assert.Equal(t, []string{"a", "b"}, created.Labels)
	assert.EqualValues(t, 1, created.Seq)
	assert.Nil(t, created.StartedAt)

	got, err := s.GetItem(ctx, testProject, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)

	_, err = s.GetItem(ctx, "other", created.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "project mismatch reads as not found")
}

func TestCreateRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateItem(context.Background(), &types.WorkItem{ProjectID: testProject}, storage.CreateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title is required")
}

func TestCreateExplicitDuplicateID(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, "a", func(i *types.WorkItem) { i.ID = "fg-fixed" })
	_, err := s.CreateItem(context.Background(), &types.WorkItem{ID: "fg-fixed", ProjectID: testProject, Title: "b"}, storage.CreateOptions{})
	assert.ErrorIs(t, err, storage.ErrDuplicateID)
}

func TestCreateHierarchicalChild(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	epic := mustCreate(t, s, "Epic", func(i *types.WorkItem) { i.Kind = types.KindEpic })

	c1, err := s.CreateItem(ctx, &types.WorkItem{ProjectID: testProject, Title: "c1"}, storage.CreateOptions{ParentID: epic.ID})
	require.NoError(t, err)
	c2, err := s.CreateItem(ctx, &types.WorkItem{ProjectID: testProject, Title: "c2"}, storage.CreateOptions{ParentID: epic.ID})
	require.NoError(t, err)

	assert.Equal(t, epic.ID+".1", c1.ID)
	assert.Equal(t, epic.ID+".2", c2.ID)

	deps, err := s.GetDependencies(ctx, c1.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, types.DepParentChild, deps[0].Type)
	assert.Equal(t, epic.ID, deps[0].ToID)

	children, err := s.GetChildren(ctx, testProject, epic.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, c1.ID, children[0].ID)

	_, err = s.CreateItem(ctx, &types.WorkItem{ProjectID: "other", Title: "x"}, storage.CreateOptions{ParentID: epic.ID})
	assert.ErrorIs(t, err, storage.ErrNotFound, "parent must be in the same project")
}

func TestCreateExplicitHierarchicalID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreate(t, s, "parent", func(i *types.WorkItem) { i.ID = "fg-p" })

	explicit := mustCreate(t, s, "explicit child", func(i *types.WorkItem) { i.ID = "fg-p.1" })
	deps, err := s.GetDependencies(ctx, explicit.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, types.DepParentChild, deps[0].Type)
	assert.Equal(t, "fg-p", deps[0].ToID)

	children, err := s.GetChildren(ctx, testProject, "fg-p")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "fg-p.1", children[0].ID)

	next, err := s.CreateItem(ctx, &types.WorkItem{ProjectID: testProject, Title: "allocated"}, storage.CreateOptions{ParentID: "fg-p"})
	require.NoError(t, err)
	assert.Equal(t, "fg-p.2", next.ID, "the explicit child counts toward the sequence")

	_, err = s.CreateItem(ctx, &types.WorkItem{ID: "fg-missing.1", ProjectID: testProject, Title: "orphan"}, storage.CreateOptions{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.CreateItem(ctx, &types.WorkItem{ID: "fg-p.9", ProjectID: "other", Title: "elsewhere"}, storage.CreateOptions{})
	assert.ErrorIs(t, err, storage.ErrNotFound, "parent must be in the same project")
	_, err = s.GetItem(ctx, testProject, "fg-missing.1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "a rejected create inserts nothing")
}

func TestUpdateMergesExtraAndStampsStartedOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item := mustCreate(t, s, "Work", func(i *types.WorkItem) {
		i.Extra = types.Attributes{"keep": types.String("yes"), types.AttrBlockReason: types.String("old")}
	})

	first, err := s.UpdateItem(ctx, testProject, item.ID, storage.ItemUpdate{
		Assignee: strPtr("agent-1"),
		Extra:    types.Attributes{types.AttrBlockReason: types.String("new")},
	})
	require.NoError(t, err)
	require.NotNil(t, first.StartedAt)
	reason, _ := first.Extra[types.AttrBlockReason].AsString()
	assert.Equal(t, "new", reason)
	keep, _ := first.Extra["keep"].AsString()
	assert.Equal(t, "yes", keep)

	time.Sleep(2 * time.Millisecond)
	second, err := s.UpdateItem(ctx, testProject, item.ID, storage.ItemUpdate{Assignee: strPtr("agent-2")})
	require.NoError(t, err)
	assert.True(t, first.StartedAt.Equal(*second.StartedAt), "reassignment must not reset startedAt")
	assert.Equal(t, "agent-2", second.Assignee)

	_, err = s.UpdateItem(ctx, "other", item.ID, storage.ItemUpdate{Title: strPtr("x")})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateLabels(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item := mustCreate(t, s, "Work", func(i *types.WorkItem) { i.Labels = []string{"a", "b"} })

	got, err := s.UpdateItem(ctx, testProject, item.ID, storage.ItemUpdate{
		AddLabels:    []string{"c"},
		RemoveLabels: []string{"a"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, got.Labels)
}

func TestCloseIsOneShot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item := mustCreate(t, s, "Work")

	closed, err := s.CloseItem(ctx, testProject, item.ID, "done")
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, closed.Status)
	assert.Equal(t, "done", closed.CloseReason)
	require.NotNil(t, closed.CompletedAt)

	_, err = s.CloseItem(ctx, testProject, item.ID, "again")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "re-close reads as not found")
	assert.True(t, errors.Is(err, storage.ErrAlreadyClosed))

	_, err = s.CloseItem(ctx, testProject, "fg-missing", "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReopenClearsAssignee(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item := mustCreate(t, s, "Work")
	inProgress := types.StatusInProgress
	_, err := s.UpdateItem(ctx, testProject, item.ID, storage.ItemUpdate{Status: &inProgress, Assignee: strPtr("agent")})
	require.NoError(t, err)

	reopened, err := s.ReopenItem(ctx, testProject, item.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, reopened.Status)
	assert.Empty(t, reopened.Assignee)
	assert.NotNil(t, reopened.StartedAt)
}

func TestReturnedItemsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	item := mustCreate(t, s, "Work", func(i *types.WorkItem) { i.Labels = []string{"x"} })

	item.Labels[0] = "mutated"
	item.Title = "mutated"

	got, err := s.GetItem(ctx, testProject, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Work", got.Title)
	assert.Equal(t, []string{"x"}, got.Labels)
}

func TestListItemsFilterAndSort(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreate(t, s, "low", func(i *types.WorkItem) { i.Priority = 3 })
	mustCreate(t, s, "high", func(i *types.WorkItem) { i.Priority = 0; i.Labels = []string{"hot"} })
	mustCreate(t, s, "other project", func(i *types.WorkItem) { i.ProjectID = "other" })

	all, err := s.ListItems(ctx, testProject, types.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "high", all[0].Title)

	hot, err := s.ListItems(ctx, testProject, types.ItemFilter{Labels: []string{"hot"}})
	require.NoError(t, err)
	require.Len(t, hot, 1)

	limited, err := s.ListItems(ctx, testProject, types.ItemFilter{Limit: 1, Sort: types.ParseSortOrder("title-desc")})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "low", limited[0].Title)
}

func TestDeleteCascadesEdges(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	require.NoError(t, s.AddDependency(ctx, &types.Dependency{FromID: b.ID, ToID: a.ID, Type: types.DepBlocks}))

	n, err := s.DeleteItems(ctx, []string{a.ID, "fg-missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deps, err := s.GetDependencies(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, deps, "edges to deleted items are removed")

	ready, err := s.GetReadyWork(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, b.ID, ready[0].ID)
}

func TestDeleteProject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreate(t, s, "a")
	mustCreate(t, s, "b")
	keep := mustCreate(t, s, "c", func(i *types.WorkItem) { i.ProjectID = "other" })

	n, err := s.DeleteProject(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetItem(ctx, "other", keep.ID)
	assert.NoError(t, err)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustCreate(t, s, "epic", func(i *types.WorkItem) { i.Kind = types.KindEpic })
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	require.NoError(t, s.AddDependency(ctx, &types.Dependency{FromID: b.ID, ToID: a.ID, Type: types.DepBlocks}))

	stats, err := s.GetStatistics(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 3, stats.OpenItems)
	assert.Equal(t, 1, stats.Epics)
	assert.Equal(t, 1, stats.ReadyItems)
	assert.Equal(t, 1, stats.Dependencies)
}
