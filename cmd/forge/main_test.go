package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beadforge/forge/internal/config"
	"github.com/beadforge/forge/internal/decision"
	"github.com/beadforge/forge/internal/orchestrator"
	"github.com/beadforge/forge/internal/types"
)

// forge runs one CLI invocation against dataDir and returns stdout.
func forge(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--data-dir", dataDir, "--log-level", "error"}, args...)
	err := execute(context.Background(), full, &out, &errOut)
	return out.String(), err
}

func forgeJSON[T any](t *testing.T, dataDir string, args ...string) T {
	t.Helper()
	out, err := forge(t, dataDir, append(args, "--json")...)
	require.NoError(t, err, "forge %v", args)
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), "output: %s", out)
	return v
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	v := config.New()
	v.Set(config.KeyDataDir, t.TempDir())
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

func newDataDir(t *testing.T) string {
	t.Helper()
	t.Setenv("FORGE_PROJECT", "")
	t.Setenv("FORGE_OTEL_ENABLED", "")
	return filepath.Join(t.TempDir(), ".forge")
}

func TestCreateAndShow(t *testing.T) {
	dir := newDataDir(t)

	created := forgeJSON[types.WorkItem](t, dir, "create", "Add", "login", "page",
		"-d", "OAuth flow", "-P", "1", "--complexity", "3", "-l", "web", "-l", "auth")
	assert.Equal(t, "Add login page", created.Title)
	assert.Equal(t, DefaultProject, created.ProjectID)
	assert.True(t, strings.HasPrefix(created.ID, "fg-"), created.ID)
	assert.Equal(t, types.StatusOpen, created.Status)
	assert.Equal(t, types.KindTask, created.Kind)
	assert.Equal(t, []string{"auth", "web"}, created.Labels)
	require.NotNil(t, created.Complexity)
	assert.Equal(t, 3, *created.Complexity)

	shown := forgeJSON[itemDetails](t, dir, "show", created.ID)
	assert.Equal(t, created.ID, shown.ID)
	assert.Equal(t, "OAuth flow", shown.Description)
	assert.Empty(t, shown.Dependencies)

	out, err := forge(t, dir, "show", created.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Add login page")
	assert.Contains(t, out, "OAuth flow")
}

func TestGraphPersistsAcrossInvocations(t *testing.T) {
	dir := newDataDir(t)
	created := forgeJSON[types.WorkItem](t, dir, "create", "persist me")

	items := forgeJSON[[]*types.WorkItem](t, dir, "list")
	require.Len(t, items, 1)
	assert.Equal(t, created.ID, items[0].ID)
	assert.FileExists(t, filepath.Join(dir, "graph.json"))
}

func TestProjectsAreIsolated(t *testing.T) {
	dir := newDataDir(t)
	a := forgeJSON[types.WorkItem](t, dir, "create", "api work", "-p", "api")
	forgeJSON[types.WorkItem](t, dir, "create", "web work", "-p", "web")

	api := forgeJSON[[]*types.WorkItem](t, dir, "ready", "-p", "api")
	require.Len(t, api, 1)
	assert.Equal(t, a.ID, api[0].ID)

	_, err := forge(t, dir, "show", a.ID, "-p", "web")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadyFollowsBlockers(t *testing.T) {
	dir := newDataDir(t)
	schema := forgeJSON[types.WorkItem](t, dir, "create", "schema", "-P", "2")
	api := forgeJSON[types.WorkItem](t, dir, "create", "api", "-P", "0", "--blocked-by", schema.ID)

	ready := forgeJSON[[]*types.WorkItem](t, dir, "ready")
	require.Len(t, ready, 1)
	assert.Equal(t, schema.ID, ready[0].ID)

	blocked := forgeJSON[[]*types.BlockedItem](t, dir, "blocked")
	require.Len(t, blocked, 1)
	assert.Equal(t, api.ID, blocked[0].ID)
	assert.Equal(t, []string{schema.ID}, blocked[0].BlockedBy)

	forgeJSON[[]*types.WorkItem](t, dir, "close", schema.ID, "-r", "done")

	ready = forgeJSON[[]*types.WorkItem](t, dir, "ready")
	require.Len(t, ready, 1)
	assert.Equal(t, api.ID, ready[0].ID)
}

func TestDepAddAndRemove(t *testing.T) {
	dir := newDataDir(t)
	a := forgeJSON[types.WorkItem](t, dir, "create", "a")
	b := forgeJSON[types.WorkItem](t, dir, "create", "b")

	_, err := forge(t, dir, "dep", "add", b.ID, a.ID)
	require.NoError(t, err)
	// Same pair again is a no-op.
	_, err = forge(t, dir, "dep", "add", b.ID, a.ID)
	require.NoError(t, err)

	deps := forgeJSON[[]*types.Dependency](t, dir, "dep", "list", b.ID)
	require.Len(t, deps, 1)
	assert.Equal(t, types.DepBlocks, deps[0].Type)

	ready := forgeJSON[[]*types.WorkItem](t, dir, "ready")
	require.Len(t, ready, 1)
	assert.Equal(t, a.ID, ready[0].ID)

	_, err = forge(t, dir, "dep", "rm", b.ID, a.ID)
	require.NoError(t, err)
	ready = forgeJSON[[]*types.WorkItem](t, dir, "ready")
	assert.Len(t, ready, 2)
}

func TestCreateDiscoveredFrom(t *testing.T) {
	dir := newDataDir(t)
	src := forgeJSON[types.WorkItem](t, dir, "create", "refactor auth")
	found := forgeJSON[types.WorkItem](t, dir, "create", "token leak", "-k", "bug", "--discovered-from", src.ID)

	attr, ok := found.Extra.Get(types.AttrDiscoveredFrom)
	require.True(t, ok)
	assert.Equal(t, src.ID, attr.String())

	// Provenance never gates readiness.
	ready := forgeJSON[[]*types.WorkItem](t, dir, "ready")
	assert.Len(t, ready, 2)
}

func TestDepAddRejectsSelfEdgeAndBadType(t *testing.T) {
	dir := newDataDir(t)
	a := forgeJSON[types.WorkItem](t, dir, "create", "a")

	_, err := forge(t, dir, "dep", "add", a.ID, a.ID)
	require.Error(t, err)

	_, err = forge(t, dir, "dep", "add", a.ID, a.ID, "--type", "relates")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid dependency type")
}

func TestCreateChildUnderEpic(t *testing.T) {
	dir := newDataDir(t)
	epic := forgeJSON[types.WorkItem](t, dir, "create", "Auth epic", "-k", "epic")
	c1 := forgeJSON[types.WorkItem](t, dir, "create", "first", "--parent", epic.ID)
	c2 := forgeJSON[types.WorkItem](t, dir, "create", "second", "--parent", epic.ID)
	assert.Equal(t, epic.ID+".1", c1.ID)
	assert.Equal(t, epic.ID+".2", c2.ID)

	shown := forgeJSON[itemDetails](t, dir, "show", epic.ID)
	require.Len(t, shown.Children, 2)

	// Epics are containers and never show up as ready work.
	ready := forgeJSON[[]*types.WorkItem](t, dir, "ready")
	for _, it := range ready {
		assert.NotEqual(t, epic.ID, it.ID)
	}
}

func TestCreateExplicitID(t *testing.T) {
	dir := newDataDir(t)
	forgeJSON[types.WorkItem](t, dir, "create", "Checkout", "--id", "fg-co", "-k", "epic")
	child := forgeJSON[types.WorkItem](t, dir, "create", "Cart", "--id", "fg-co.1")
	assert.Equal(t, "fg-co.1", child.ID)

	shown := forgeJSON[itemDetails](t, dir, "show", "fg-co")
	require.Len(t, shown.Children, 1)
	assert.Equal(t, "fg-co.1", shown.Children[0].ID)

	next := forgeJSON[types.WorkItem](t, dir, "create", "Payment", "--parent", "fg-co")
	assert.Equal(t, "fg-co.2", next.ID)

	_, err := forge(t, dir, "create", "Orphan", "--id", "fg-gone.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = forge(t, dir, "create", "Both", "--id", "fg-x", "--parent", "fg-co")
	require.ErrorContains(t, err, "cannot specify both")
}

func TestUpdate(t *testing.T) {
	dir := newDataDir(t)
	a := forgeJSON[types.WorkItem](t, dir, "create", "a", "-l", "old")

	updated := forgeJSON[types.WorkItem](t, dir, "update", a.ID,
		"--title", "renamed", "-a", "alice", "--add-label", "new", "--remove-label", "old",
		"--set", "block_reason=waiting on vendor")
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, "alice", updated.Assignee)
	assert.NotNil(t, updated.StartedAt)
	assert.Equal(t, []string{"new"}, updated.Labels)
	attr, ok := updated.Extra.Get(types.AttrBlockReason)
	require.True(t, ok)
	assert.Equal(t, "waiting on vendor", attr.String())

	_, err := forge(t, dir, "update", a.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no updates")

	_, err = forge(t, dir, "update", a.ID, "-s", "done")
	require.Error(t, err)
}

func TestCloseAndReopen(t *testing.T) {
	dir := newDataDir(t)
	a := forgeJSON[types.WorkItem](t, dir, "create", "a", "-a", "bob")

	closed := forgeJSON[[]*types.WorkItem](t, dir, "close", a.ID, "-r", "shipped")
	require.Len(t, closed, 1)
	assert.Equal(t, types.StatusClosed, closed[0].Status)
	assert.Equal(t, "shipped", closed[0].CloseReason)
	require.NotNil(t, closed[0].CompletedAt)

	// Closing again is reported but not an error.
	again := forgeJSON[[]*types.WorkItem](t, dir, "close", a.ID)
	assert.Empty(t, again)

	reopened := forgeJSON[[]*types.WorkItem](t, dir, "reopen", a.ID)
	require.Len(t, reopened, 1)
	assert.Equal(t, types.StatusOpen, reopened[0].Status)
	assert.Empty(t, reopened[0].Assignee)

	_, err := forge(t, dir, "close", "fg-nope")
	require.Error(t, err)
}

func TestListFilters(t *testing.T) {
	dir := newDataDir(t)
	forgeJSON[types.WorkItem](t, dir, "create", "bug one", "-k", "bug", "-l", "ui")
	forgeJSON[types.WorkItem](t, dir, "create", "task one", "-l", "ui")
	forgeJSON[types.WorkItem](t, dir, "create", "task two", "-a", "carol")

	bugs := forgeJSON[[]*types.WorkItem](t, dir, "list", "-k", "bug")
	require.Len(t, bugs, 1)
	assert.Equal(t, "bug one", bugs[0].Title)

	ui := forgeJSON[[]*types.WorkItem](t, dir, "list", "-l", "ui")
	assert.Len(t, ui, 2)

	mine := forgeJSON[[]*types.WorkItem](t, dir, "list", "-a", "carol")
	require.Len(t, mine, 1)
	assert.Equal(t, "task two", mine[0].Title)

	limited := forgeJSON[[]*types.WorkItem](t, dir, "list", "-n", "1")
	assert.Len(t, limited, 1)
}

func TestStats(t *testing.T) {
	dir := newDataDir(t)
	a := forgeJSON[types.WorkItem](t, dir, "create", "a")
	forgeJSON[types.WorkItem](t, dir, "create", "b", "--blocked-by", a.ID)
	forgeJSON[types.WorkItem](t, dir, "create", "epic", "-k", "epic")

	st := forgeJSON[types.Statistics](t, dir, "stats")
	assert.Equal(t, 3, st.TotalItems)
	assert.Equal(t, 1, st.Epics)
	assert.Equal(t, 1, st.ReadyItems)
	assert.Equal(t, 1, st.Dependencies)

	out, err := forge(t, dir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Total")
}

func TestDelete(t *testing.T) {
	dir := newDataDir(t)
	a := forgeJSON[types.WorkItem](t, dir, "create", "a")
	forgeJSON[types.WorkItem](t, dir, "create", "b", "--blocked-by", a.ID)

	// No terminal in tests, so confirmation cannot be given.
	_, err := forge(t, dir, "delete", a.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	res := forgeJSON[map[string]int](t, dir, "delete", a.ID, "--force")
	assert.Equal(t, 1, res["deleted"])

	// The edge went with it, so b is ready.
	ready := forgeJSON[[]*types.WorkItem](t, dir, "ready")
	require.Len(t, ready, 1)
	assert.Equal(t, "b", ready[0].Title)

	res = forgeJSON[map[string]int](t, dir, "delete", "--project-items", "--force")
	assert.Equal(t, 1, res["deleted"])

	_, err = forge(t, dir, "delete", "--force")
	require.Error(t, err)
}

func TestFlush(t *testing.T) {
	dir := newDataDir(t)
	forgeJSON[types.WorkItem](t, dir, "create", "a")
	res := forgeJSON[map[string]string](t, dir, "flush")
	assert.Equal(t, "flushed", res["status"])
	assert.Equal(t, filepath.Join(dir, "graph.json"), res["path"])
}

func TestDecide(t *testing.T) {
	dir := newDataDir(t)
	decisions := filepath.Join(dir, "decisions")
	require.NoError(t, os.MkdirAll(decisions, 0o750))

	req := decision.Request{
		ID:          "req-1",
		ProjectID:   "api",
		ItemID:      "fg-abc",
		PolicyKey:   orchestrator.EscalationPolicy,
		Description: "fg-abc failed 3 times",
		Options:     []string{orchestrator.ChoiceRetry, orchestrator.ChoiceRequeue},
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(decision.RequestPath(decisions, req.ID), data, 0o600))

	pending := forgeJSON[[]*decision.Request](t, dir, "decide")
	require.Len(t, pending, 1)
	assert.Equal(t, "req-1", pending[0].ID)

	out, err := forge(t, dir, "decide")
	require.NoError(t, err)
	assert.Contains(t, out, "fg-abc failed 3 times")

	_, err = forge(t, dir, "decide", "req-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")

	d := forgeJSON[decision.Decision](t, dir, "decide", "req-1", "--approve", "-m", "flaky test", "--actor", "dana")
	assert.True(t, d.Approved)
	assert.Equal(t, orchestrator.ChoiceRetry, d.Choice)
	assert.Equal(t, "dana", d.RespondedBy)
	assert.Equal(t, "flaky test", d.Rationale)

	pending = forgeJSON[[]*decision.Request](t, dir, "decide")
	assert.Empty(t, pending)

	_, err = forge(t, dir, "decide", "no-such-request", "--reject")
	require.Error(t, err)
}

func TestSessionsEmpty(t *testing.T) {
	dir := newDataDir(t)
	out, err := forge(t, dir, "sessions", "fg-abc")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded")

	sessions := forgeJSON[[]map[string]any](t, dir, "sessions", "fg-abc")
	assert.Empty(t, sessions)
}

func TestRunRequiresProfileCatalog(t *testing.T) {
	dir := newDataDir(t)
	_, err := forge(t, dir, "run", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers.profiles")
}

func TestVersion(t *testing.T) {
	dir := newDataDir(t)
	out, err := forge(t, dir, "version")
	require.NoError(t, err)
	assert.Equal(t, "forge version "+Version+" ("+Build+")\n", out)

	v := forgeJSON[map[string]string](t, dir, "version")
	assert.Equal(t, Version, v["version"])
}

func TestConfigFileSetsProjectAndPrefix(t *testing.T) {
	dir := newDataDir(t)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("project: billing\nid-prefix: bill\n"), 0o600))

	created := forgeJSON[types.WorkItem](t, dir, "create", "invoice export")
	assert.Equal(t, "billing", created.ProjectID)
	assert.True(t, strings.HasPrefix(created.ID, "bill-"), created.ID)

	t.Setenv("FORGE_PROJECT", "ledger")
	other := forgeJSON[types.WorkItem](t, dir, "create", "ledger sync")
	assert.Equal(t, "ledger", other.ProjectID)
}

func TestParseAttributes(t *testing.T) {
	attrs, err := parseAttributes([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, "1", attrs["a"].String())
	assert.Equal(t, "x=y", attrs["b"].String())
	assert.Equal(t, "", attrs["c"].String())

	_, err = parseAttributes([]string{"novalue"})
	require.Error(t, err)
	_, err = parseAttributes([]string{"=v"})
	require.Error(t, err)
}

func TestRunProjectsDedupes(t *testing.T) {
	t.Setenv("FORGE_PROJECT", "")
	a := &app{cfg: newTestConfig(t)}
	assert.Equal(t, []string{"api", "web"}, runProjects(a, []string{"api", "web", "api", ""}))
	assert.Equal(t, []string{DefaultProject}, runProjects(a, nil))
}
