// Package executil runs external commands for the git collaborator, the test
// runner and the deploy hook.
package executil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// MaxStderrLen caps how much stderr RunSh folds into its error.
const MaxStderrLen = 500

const pipeWaitDelay = time.Second

// LimitedWriter caps writes to a bytes.Buffer at Max bytes.
// Bytes beyond the limit are silently discarded. Safe for concurrent writers.
type LimitedWriter struct {
	Buf *bytes.Buffer
	Max int64
	mu  sync.Mutex
	n   int64
}

func (w *LimitedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n >= w.Max {
		return len(p), nil
	}
	remaining := w.Max - w.n
	origLen := len(p)
	if int64(origLen) > remaining {
		p = p[:remaining]
	}
	n, err := w.Buf.Write(p)
	w.n += int64(n)
	if err != nil {
		return n, err
	}
	return origLen, nil
}

// Truncated reports whether any bytes were dropped.
func (w *LimitedWriter) Truncated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n >= w.Max
}

// RunSh executes a shell command in dir (empty means inherit cwd) with
// optional extra environment. On failure stderr becomes the error message,
// capped at MaxStderrLen bytes. The *exec.ExitError stays reachable with
// errors.As.
func RunSh(ctx context.Context, dir, cmd string, env ...string) error {
	_, err := runSh(ctx, dir, cmd, io.Discard, env)
	return err
}

// RunShOutput is RunSh that also returns combined stdout+stderr, capped at max bytes.
func RunShOutput(ctx context.Context, dir, cmd string, max int64, env ...string) (string, error) {
	var out bytes.Buffer
	lw := &LimitedWriter{Buf: &out, Max: max}
	_, err := runSh(ctx, dir, cmd, lw, env)
	return out.String(), err
}

func runSh(ctx context.Context, dir, cmd string, stdout io.Writer, env []string) (*exec.Cmd, error) {
	// #nosec G204 - commands come from configuration
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	if dir != "" {
		c.Dir = dir
	}
	if len(env) > 0 {
		c.Env = append(c.Environ(), env...)
	}
	// Grandchildren can hold the pipes open after sh is killed.
	c.WaitDelay = pipeWaitDelay
	var buf bytes.Buffer
	c.Stdout = stdout
	stderr := io.Writer(&LimitedWriter{Buf: &buf, Max: MaxStderrLen})
	if lw, ok := stdout.(*LimitedWriter); ok {
		stderr = io.MultiWriter(stderr, lw)
	}
	c.Stderr = stderr
	if err := c.Run(); err != nil {
		msg := strings.TrimSpace(buf.String())
		if msg != "" {
			return c, fmt.Errorf("%s: %w", msg, err)
		}
		return c, err
	}
	return c, nil
}

// Executor runs commands.
type Executor interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, cmd string, args ...string) ([]byte, error)
	// RunDir executes a command in a specific directory.
	RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error)
}

// RealExecutor calls actual commands.
type RealExecutor struct{}

// Run executes a command and returns its combined output.
func (e *RealExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	// #nosec G204 - commands are built by callers in this module
	out, err := exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("exec %s: %w", cmd, err)
	}
	return out, nil
}

// RunDir executes a command in a specific directory.
func (e *RealExecutor) RunDir(ctx context.Context, dir, cmd string, args ...string) ([]byte, error) {
	// #nosec G204 - commands are built by callers in this module
	c := exec.CommandContext(ctx, cmd, args...)
	c.Dir = dir
	out, err := c.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > MaxStderrLen {
			msg = msg[:MaxStderrLen]
		}
		if msg != "" {
			return out, fmt.Errorf("exec %s in %s: %s: %w", cmd, dir, msg, err)
		}
		return out, fmt.Errorf("exec %s in %s: %w", cmd, dir, err)
	}
	return out, nil
}
