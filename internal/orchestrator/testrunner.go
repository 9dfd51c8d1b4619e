package orchestrator

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/beadforge/forge/internal/executil"
)

// MaxTestOutput caps captured test output.
const MaxTestOutput = 64 * 1024

// TestResult is the outcome of a test run.
type TestResult struct {
	Passed   bool
	Output   string
	Duration time.Duration
}

// TestRunner runs the project's tests in a checkout.
type TestRunner interface {
	Run(ctx context.Context, dir string) (TestResult, error)
}

// ShellTestRunner runs Command with sh -c. An empty command always passes.
type ShellTestRunner struct {
	Command string
}

// Run returns Passed=false for a non-zero exit. The error is reserved for
// failures to run the command at all.
func (r ShellTestRunner) Run(ctx context.Context, dir string) (TestResult, error) {
	if r.Command == "" {
		return TestResult{Passed: true}, nil
	}
	start := time.Now()
	out, err := executil.RunShOutput(ctx, dir, r.Command, MaxTestOutput)
	res := TestResult{Passed: err == nil, Output: out, Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return res, nil
		}
		return res, err
	}
	return res, nil
}
