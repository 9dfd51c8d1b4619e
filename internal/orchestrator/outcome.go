package orchestrator

import (
	"time"

	"github.com/beadforge/forge/internal/archive"
)

// Outcome is how one phase attempt ended. Outcomes are data handled by the
// retry state machine, never Go errors.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeApproved      Outcome = "approved"
	OutcomeRejected      Outcome = "rejected"
	OutcomeWorkerFailure Outcome = "worker_failure"
	OutcomeTestFailure   Outcome = "test_failure"
	OutcomeMergeFailure  Outcome = "merge_failure"
)

// IsFailure reports whether o routes to failure handling.
func (o Outcome) IsFailure() bool {
	switch o {
	case OutcomeWorkerFailure, OutcomeTestFailure, OutcomeMergeFailure:
		return true
	}
	return false
}

// AttemptResult captures one phase attempt.
type AttemptResult struct {
	Phase      Phase
	Attempt    int
	Outcome    Outcome
	Reason     string // Failure reason or reviewer feedback
	Summary    string
	Diff       string
	TestOutput string
	Issues     []string
	StartedAt  time.Time
	EndedAt    time.Time
}

func (r *AttemptResult) session(project, item string, outcome archive.Outcome) *archive.Session {
	return &archive.Session{
		ProjectID:  project,
		ItemID:     item,
		Phase:      string(r.Phase),
		Attempt:    r.Attempt,
		Outcome:    outcome,
		Summary:    r.Summary,
		Reason:     r.Reason,
		Diff:       r.Diff,
		TestOutput: r.TestOutput,
		Issues:     r.Issues,
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
	}
}
