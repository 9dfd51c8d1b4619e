// Package git provides the branch and version-control collaborator the
// orchestrator drives. Every operation is keyed by repository directory and
// branch name.
package git

import "context"

// Brancher defines the git operations the build pipeline needs.
type Brancher interface {
	// CreateBranch creates branch from base and checks it out.
	CreateBranch(ctx context.Context, dir, branch, base string) error
	// CreateOrCheckoutBranch checks out branch, creating it from base when missing.
	CreateOrCheckoutBranch(ctx context.Context, dir, branch, base string) error
	// Checkout switches to branch.
	Checkout(ctx context.Context, dir, branch string) error
	// CommitAll stages every change and commits it. Reports false when the
	// tree was already clean.
	CommitAll(ctx context.Context, dir, message string, author Signature) (bool, error)
	// GetDiff returns the patch of branch relative to base.
	GetDiff(ctx context.Context, dir, base, branch string) (string, error)
	// VerifyMerge reports whether branch is already contained in base.
	VerifyMerge(ctx context.Context, dir, branch, base string) (bool, error)
	// Merge merges branch into base with a merge commit authored by author.
	Merge(ctx context.Context, dir, branch, base, message string, author Signature) error
	// DeleteBranch force-deletes branch.
	DeleteBranch(ctx context.Context, dir, branch string) error
	// RevertAndReturnToMain discards uncommitted work and checks out base.
	RevertAndReturnToMain(ctx context.Context, dir, base string) error
}

// Signature identifies the committer of orchestrator commits.
type Signature struct {
	Name  string
	Email string
}

// args returns the -c overrides that make git use s for a commit. Empty
// fields fall back to the repository's own configuration.
func (s Signature) args() []string {
	var out []string
	if s.Name != "" {
		out = append(out, "-c", "user.name="+s.Name)
	}
	if s.Email != "" {
		out = append(out, "-c", "user.email="+s.Email)
	}
	return out
}

// BranchName returns the working branch for an item.
func BranchName(itemID string) string {
	return "forge/" + itemID
}
