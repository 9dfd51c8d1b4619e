//go:build !windows

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellTestRunner(t *testing.T) {
	ctx := context.Background()

	res, err := ShellTestRunner{}.Run(ctx, t.TempDir())
	require.NoError(t, err)
	assert.True(t, res.Passed, "empty command passes")

	res, err = ShellTestRunner{Command: "echo ok"}.Run(ctx, t.TempDir())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Contains(t, res.Output, "ok")

	res, err = ShellTestRunner{Command: "echo FAIL: TestX; exit 1"}.Run(ctx, t.TempDir())
	require.NoError(t, err, "a failing suite is a result, not an error")
	assert.False(t, res.Passed)
	assert.Contains(t, res.Output, "FAIL: TestX")
}

func TestShellTestRunnerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := ShellTestRunner{Command: "sleep 5"}.Run(ctx, t.TempDir())
	assert.Error(t, err)
	assert.False(t, res.Passed)
}
