// Package deploy triggers a downstream deployment after an item merges.
package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/beadforge/forge/internal/executil"
)

// Env passed to the deploy command.
const (
	EnvProject = "FORGE_PROJECT"
	EnvItem    = "FORGE_ITEM"
)

// DefaultTimeout bounds a single deploy hook run.
const DefaultTimeout = 5 * time.Minute

// Deployer runs a configured shell command. An empty Command is a no-op.
type Deployer struct {
	Command string
	Dir     string
	Timeout time.Duration
	Log     zerolog.Logger
}

// New returns a Deployer for cmd run in dir.
func New(cmd, dir string, log zerolog.Logger) *Deployer {
	return &Deployer{
		Command: cmd,
		Dir:     dir,
		Timeout: DefaultTimeout,
		Log:     log.With().Str("component", "deploy").Logger(),
	}
}

// Trigger runs the hook for a merged item. Callers treat errors as
// informational; a failed deploy never reopens the item.
func (d *Deployer) Trigger(ctx context.Context, project, item string) error {
	if d == nil || d.Command == "" {
		return nil
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := executil.RunSh(ctx, d.Dir, d.Command,
		EnvProject+"="+project,
		EnvItem+"="+item,
	)
	if err != nil {
		d.Log.Warn().Err(err).Str("project", project).Str("item", item).Msg("deploy hook failed")
		return fmt.Errorf("deploy %s: %w", item, err)
	}
	d.Log.Info().Str("project", project).Str("item", item).Dur("took", time.Since(start)).Msg("deploy hook finished")
	return nil
}
