package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/beadforge/forge/internal/executil"
)

// DefaultLockRetries bounds retries when another git process holds index.lock.
const DefaultLockRetries = 5

// Executor implements Brancher using the git command-line tool.
type Executor struct {
	gitPath string
	exec    executil.Executor

	// LockRetryDelay is the pause between attempts when index.lock is held.
	LockRetryDelay time.Duration
	LockRetries    uint64
}

var _ Brancher = (*Executor)(nil)

// NewExecutor creates a git executor with the specified git binary path.
func NewExecutor(gitPath string, exec executil.Executor) *Executor {
	if gitPath == "" {
		gitPath = "git"
	}
	return &Executor{
		gitPath:        gitPath,
		exec:           exec,
		LockRetryDelay: 200 * time.Millisecond,
		LockRetries:    DefaultLockRetries,
	}
}

func (e *Executor) run(ctx context.Context, dir string, args ...string) (string, error) {
	var out []byte
	err := backoff.Retry(func() error {
		var err error
		out, err = e.exec.RunDir(ctx, dir, e.gitPath, args...)
		if err != nil && isIndexLocked(err, out) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.LockRetryDelay), e.LockRetries), ctx))
	return string(out), err
}

func isIndexLocked(err error, out []byte) bool {
	return strings.Contains(err.Error(), "index.lock") || strings.Contains(string(out), "index.lock")
}

// exitCode returns the process exit code wrapped in err, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (e *Executor) branchExists(ctx context.Context, dir, branch string) (bool, error) {
	_, err := e.run(ctx, dir, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check branch %s: %w", branch, err)
}

func (e *Executor) CreateBranch(ctx context.Context, dir, branch, base string) error {
	if _, err := e.run(ctx, dir, "checkout", "-b", branch, base); err != nil {
		return fmt.Errorf("create branch %s from %s: %w", branch, base, err)
	}
	return nil
}

func (e *Executor) CreateOrCheckoutBranch(ctx context.Context, dir, branch, base string) error {
	exists, err := e.branchExists(ctx, dir, branch)
	if err != nil {
		return err
	}
	if exists {
		return e.Checkout(ctx, dir, branch)
	}
	return e.CreateBranch(ctx, dir, branch, base)
}

func (e *Executor) Checkout(ctx context.Context, dir, branch string) error {
	if _, err := e.run(ctx, dir, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

func (e *Executor) CommitAll(ctx context.Context, dir, message string, author Signature) (bool, error) {
	if _, err := e.run(ctx, dir, "add", "-A"); err != nil {
		return false, fmt.Errorf("git add: %w", err)
	}
	clean, err := e.IsClean(ctx, dir)
	if err != nil {
		return false, err
	}
	if clean {
		return false, nil
	}
	args := append(author.args(), "commit", "--no-verify", "-m", message)
	if _, err := e.run(ctx, dir, args...); err != nil {
		return false, fmt.Errorf("git commit: %w", err)
	}
	return true, nil
}

func (e *Executor) GetDiff(ctx context.Context, dir, base, branch string) (string, error) {
	out, err := e.run(ctx, dir, "diff", base+"..."+branch)
	if err != nil {
		return "", fmt.Errorf("git diff %s...%s: %w", base, branch, err)
	}
	return out, nil
}

func (e *Executor) VerifyMerge(ctx context.Context, dir, branch, base string) (bool, error) {
	_, err := e.run(ctx, dir, "merge-base", "--is-ancestor", branch, base)
	if err == nil {
		return true, nil
	}
	if exitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("verify merge %s into %s: %w", branch, base, err)
}

func (e *Executor) Merge(ctx context.Context, dir, branch, base, message string, author Signature) error {
	if err := e.Checkout(ctx, dir, base); err != nil {
		return err
	}
	args := append(author.args(), "merge", "--no-ff", "-m", message, branch)
	if _, err := e.run(ctx, dir, args...); err != nil {
		// Leave the tree usable for the next item.
		_, _ = e.run(ctx, dir, "merge", "--abort")
		return fmt.Errorf("merge %s into %s: %w", branch, base, err)
	}
	return nil
}

func (e *Executor) DeleteBranch(ctx context.Context, dir, branch string) error {
	if _, err := e.run(ctx, dir, "branch", "-D", branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

func (e *Executor) RevertAndReturnToMain(ctx context.Context, dir, base string) error {
	if _, err := e.run(ctx, dir, "reset", "--hard"); err != nil {
		return fmt.Errorf("reset --hard: %w", err)
	}
	if _, err := e.run(ctx, dir, "clean", "-fd"); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	return e.Checkout(ctx, dir, base)
}

// IsClean returns true if there are no uncommitted changes in dir.
func (e *Executor) IsClean(ctx context.Context, dir string) (bool, error) {
	out, err := e.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) == "", nil
}

// CurrentBranch returns the current branch name, or the short commit SHA on a detached HEAD.
func (e *Executor) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := e.run(ctx, dir, "branch", "--show-current")
	if err != nil {
		return "", fmt.Errorf("git branch: %w", err)
	}
	if branch := strings.TrimSpace(out); branch != "" {
		return branch, nil
	}
	out, err = e.run(ctx, dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// RepoRoot returns the top-level directory of the repository containing dir.
func (e *Executor) RepoRoot(ctx context.Context, dir string) (string, error) {
	out, err := e.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return strings.TrimSpace(out), nil
}
