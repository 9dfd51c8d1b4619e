package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	v := New()
	v.Set(KeyDataDir, dir)

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Orchestrator.RetryLimit)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Store.FlushDebounce)
	assert.Equal(t, "fg", cfg.Store.IDPrefix)
	assert.Equal(t, DecisionModeAuto, cfg.Decision.Mode)
	assert.Equal(t, filepath.Join(dir, "graph.json"), cfg.StorePath())
	assert.Equal(t, filepath.Join(dir, "work"), cfg.Orchestrator.WorkDir)
	assert.Empty(t, cfg.File)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
orchestrator:
  retry-limit: 5
  test-command: go test ./...
log:
  level: debug
decision:
  mode: file
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("FORGE_LOG_LEVEL", "warn")

	v := New()
	v.Set(KeyDataDir, dir)
	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Orchestrator.RetryLimit)
	assert.Equal(t, "go test ./...", cfg.Orchestrator.TestCommand)
	assert.Equal(t, "warn", cfg.Log.Level, "env overrides file")
	assert.Equal(t, DecisionModeFile, cfg.Decision.Mode)
	assert.Equal(t, filepath.Join(dir, "decisions"), cfg.Decision.Dir)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.File)
}

func TestLoadValidation(t *testing.T) {
	v := New()
	v.Set(KeyDataDir, t.TempDir())
	v.Set(KeyRetryLimit, -1)
	v.Set(KeyDecisionMode, "carrier-pigeon")

	_, err := Load(v, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyRetryLimit)
	assert.Contains(t, err.Error(), KeyDecisionMode)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadLocalConfig(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, &LocalConfig{}, LoadLocalConfig(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("project: web\nid-prefix: wb\n"), 0o600))
	cfg := LoadLocalConfig(dir)
	assert.Equal(t, "web", cfg.Project)
	assert.Equal(t, "wb", cfg.IDPrefix)

	t.Setenv("FORGE_PROJECT", "api")
	assert.Equal(t, "api", LoadLocalConfigWithEnv(dir).Project)
}

func TestLoadEventHooks(t *testing.T) {
	dir := t.TempDir()
	yaml := `
events:
  journal: "-"
  hooks:
    - id: notify
      command: ./notify.sh
      events: [ItemEscalated]
      priority: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	v := New()
	v.Set(KeyDataDir, dir)
	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Empty(t, cfg.Events.Journal)
	require.Len(t, cfg.Events.Hooks, 1)
	assert.Equal(t, "notify", cfg.Events.Hooks[0].ID)
	assert.Equal(t, []string{"ItemEscalated"}, cfg.Events.Hooks[0].Events)
	assert.Equal(t, 30, cfg.Events.Hooks[0].Priority)
}

func TestDefaultJournalPath(t *testing.T) {
	dir := t.TempDir()
	v := New()
	v.Set(KeyDataDir, dir)
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "events.jsonl"), cfg.Events.Journal)
}
