package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/beadforge/forge/internal/archive"
	"github.com/beadforge/forge/internal/contextpack"
	"github.com/beadforge/forge/internal/decision"
	"github.com/beadforge/forge/internal/eventbus"
	"github.com/beadforge/forge/internal/git"
	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
	"github.com/beadforge/forge/internal/worker"
)

// maxReasonLen caps failure text carried into feedback and escalations.
const maxReasonLen = 4000

// cleanupTimeout bounds store and git cleanup after the loop is cancelled.
const cleanupTimeout = 30 * time.Second

type itemResult int

const (
	resultCompleted itemResult = iota
	resultRequeued
	resultAborted
)

// work drives one claimed item until it is closed, returned to the queue,
// or the loop is cancelled.
func (o *Orchestrator) work(ctx context.Context, st *RunState, item *types.WorkItem) itemResult {
	project := item.ProjectID
	log := o.log.With().Str("project", project).Str("item", item.ID).Logger()
	st.begin(item.ID, o.now())

	attempt := 1
	failures, rejections := 0, 0
	fresh := true
	feedback := ""
	var history []string

	for {
		if ctx.Err() != nil {
			o.abandon(ctx, item, log)
			return resultAborted
		}
		o.deps.Metrics.Attempt(ctx, project)

		coded := o.code(ctx, st, item, attempt, feedback, fresh, log)
		fresh = false
		last := coded

		if coded.Outcome == OutcomeSuccess {
			st.recordCoding(coded)
			reviewed := o.review(ctx, st, item, attempt, coded, log)
			switch reviewed.Outcome {
			case OutcomeApproved:
				o.complete(ctx, st, item, coded, reviewed, log)
				return resultCompleted

			case OutcomeRejected:
				rejections++
				st.counts(failures, rejections)
				o.record(ctx, reviewed.session(project, item.ID, archive.OutcomeRejected), log)
				history = append(history, fmt.Sprintf("attempt %d rejected: %s", attempt, reviewed.Reason))
				log.Info().Int("attempt", attempt).Int("rejections", rejections).Msg("review rejected")

				if rejections > o.cfg.RetryLimit {
					if !o.escalate(ctx, item, attempt, reviewed, history, log) {
						return o.requeueOrAbort(ctx, st, item, reviewed, log)
					}
					attempt, failures, rejections = 1, 0, 0
					st.counts(failures, rejections)
				} else {
					attempt++
					o.stampRetry(ctx, item, log)
				}
				feedback = reviewed.Reason
				continue
			}
			last = reviewed
		}

		if ctx.Err() != nil {
			o.abandon(ctx, item, log)
			return resultAborted
		}

		o.revert(ctx, log)
		o.record(ctx, last.session(project, item.ID, archive.OutcomeFailed), log)
		failures++
		st.counts(failures, rejections)
		history = append(history, fmt.Sprintf("attempt %d %s (%s): %s", attempt, last.Outcome, last.Phase, last.Reason))
		log.Warn().
			Str("phase", string(last.Phase)).
			Int("attempt", attempt).
			Str("outcome", string(last.Outcome)).
			Str("reason", firstLine(last.Reason)).
			Msg("attempt failed")

		if failures > o.cfg.RetryLimit {
			if !o.escalate(ctx, item, attempt, last, history, log) {
				return o.requeueOrAbort(ctx, st, item, last, log)
			}
			attempt, failures, rejections = 1, 0, 0
			st.counts(failures, rejections)
		} else {
			attempt++
			o.stampRetry(ctx, item, log)
		}
		feedback = last.Reason
	}
}

// code runs one coding attempt: branch, assemble, spawn, commit, diff, test.
func (o *Orchestrator) code(ctx context.Context, st *RunState, item *types.WorkItem, attempt int, feedback string, fresh bool, log zerolog.Logger) *AttemptResult {
	start := o.now()
	st.enter(PhaseCoding, attempt, start)
	o.publish(ctx, &eventbus.Event{Type: eventbus.EventPhaseChanged, ProjectID: item.ProjectID, ItemID: item.ID, Phase: string(PhaseCoding), Attempt: attempt})
	log = log.With().Str("phase", string(PhaseCoding)).Int("attempt", attempt).Logger()

	res := &AttemptResult{Phase: PhaseCoding, Attempt: attempt, StartedAt: start}
	fail := func(outcome Outcome, reason string) *AttemptResult {
		return o.finishAttempt(ctx, item.ProjectID, res, outcome, reason)
	}

	branch := git.BranchName(item.ID)
	if err := o.prepareBranch(ctx, branch, fresh, log); err != nil {
		return fail(OutcomeWorkerFailure, err.Error())
	}

	profile, err := o.deps.Profiles.ForComplexity(worker.RoleCoder, item.Complexity)
	if err != nil {
		return fail(OutcomeWorkerFailure, fmt.Sprintf("select coder profile: %v", err))
	}
	bundle, err := o.deps.Assembler.Assemble(ctx, contextpack.Request{
		ProjectID:  item.ProjectID,
		ItemID:     item.ID,
		Phase:      contextpack.PhaseCoding,
		Attempt:    attempt,
		Feedback:   feedback,
		Branch:     branch,
		BaseBranch: o.cfg.BaseBranch,
		RepoDir:    o.cfg.RepoDir,
		Profile:    profile,
	})
	if err != nil {
		return fail(OutcomeWorkerFailure, fmt.Sprintf("assemble context: %v", err))
	}

	result, reason := o.runWorker(ctx, st, item, PhaseCoding, attempt, bundle, profile, log)
	if reason != "" {
		return fail(OutcomeWorkerFailure, reason)
	}
	res.Summary = result.Summary
	res.Issues = issueStrings(result.Issues)
	if result.Status != worker.StatusSuccess {
		reason := result.Feedback()
		if reason == "" {
			reason = fmt.Sprintf("coding worker reported %s", result.Status)
		}
		return fail(OutcomeWorkerFailure, reason)
	}

	committed, err := o.deps.Git.CommitAll(ctx, o.cfg.RepoDir, commitMessage(item, result.Summary), o.cfg.Author)
	if err != nil {
		return fail(OutcomeWorkerFailure, fmt.Sprintf("commit: %v", err))
	}
	diff, err := o.deps.Git.GetDiff(ctx, o.cfg.RepoDir, o.cfg.BaseBranch, branch)
	if err != nil {
		return fail(OutcomeWorkerFailure, fmt.Sprintf("diff: %v", err))
	}
	res.Diff = diff
	if !committed {
		log.Debug().Msg("worker left no uncommitted changes")
	}

	tr, err := o.deps.Tests.Run(ctx, o.cfg.RepoDir)
	res.TestOutput = tr.Output
	if err != nil {
		return fail(OutcomeTestFailure, fmt.Sprintf("run tests: %v", err))
	}
	if !tr.Passed {
		return fail(OutcomeTestFailure, "tests failed:\n"+tail(tr.Output, maxReasonLen))
	}
	log.Info().Dur("tests", tr.Duration).Int("diff_bytes", len(diff)).Msg("coding attempt passed tests")
	return o.finishAttempt(ctx, item.ProjectID, res, OutcomeSuccess, "")
}

// review runs the reviewer on the committed diff and merges on approval.
func (o *Orchestrator) review(ctx context.Context, st *RunState, item *types.WorkItem, attempt int, coded *AttemptResult, log zerolog.Logger) *AttemptResult {
	start := o.now()
	st.enter(PhaseReview, attempt, start)
	o.publish(ctx, &eventbus.Event{Type: eventbus.EventPhaseChanged, ProjectID: item.ProjectID, ItemID: item.ID, Phase: string(PhaseReview), Attempt: attempt})
	log = log.With().Str("phase", string(PhaseReview)).Int("attempt", attempt).Logger()

	res := &AttemptResult{
		Phase:      PhaseReview,
		Attempt:    attempt,
		StartedAt:  start,
		Diff:       coded.Diff,
		TestOutput: coded.TestOutput,
	}
	fail := func(outcome Outcome, reason string) *AttemptResult {
		return o.finishAttempt(ctx, item.ProjectID, res, outcome, reason)
	}

	branch := git.BranchName(item.ID)
	profile, err := o.deps.Profiles.ForComplexity(worker.RoleReviewer, item.Complexity)
	if err != nil {
		return fail(OutcomeWorkerFailure, fmt.Sprintf("select reviewer profile: %v", err))
	}
	bundle, err := o.deps.Assembler.Assemble(ctx, contextpack.Request{
		ProjectID:  item.ProjectID,
		ItemID:     item.ID,
		Phase:      contextpack.PhaseReview,
		Attempt:    attempt,
		Diff:       coded.Diff,
		TestOutput: coded.TestOutput,
		Branch:     branch,
		BaseBranch: o.cfg.BaseBranch,
		RepoDir:    o.cfg.RepoDir,
		Profile:    profile,
	})
	if err != nil {
		return fail(OutcomeWorkerFailure, fmt.Sprintf("assemble review context: %v", err))
	}

	result, reason := o.runWorker(ctx, st, item, PhaseReview, attempt, bundle, profile, log)
	if reason != "" {
		return fail(OutcomeWorkerFailure, reason)
	}
	res.Summary = result.Summary
	res.Issues = issueStrings(result.Issues)

	switch result.Status {
	case worker.StatusApproved:
		merged, err := o.deps.Git.VerifyMerge(ctx, o.cfg.RepoDir, branch, o.cfg.BaseBranch)
		if err != nil {
			return fail(OutcomeMergeFailure, fmt.Sprintf("verify merge: %v", err))
		}
		if !merged {
			if err := o.deps.Git.Merge(ctx, o.cfg.RepoDir, branch, o.cfg.BaseBranch, mergeMessage(item), o.cfg.Author); err != nil {
				return fail(OutcomeMergeFailure, fmt.Sprintf("merge: %v", err))
			}
			log.Debug().Msg("merged branch after approval")
		}
		return o.finishAttempt(ctx, item.ProjectID, res, OutcomeApproved, "")
	case worker.StatusRejected:
		feedback := result.Feedback()
		if feedback == "" {
			feedback = "reviewer rejected the change without comments"
		}
		return o.finishAttempt(ctx, item.ProjectID, res, OutcomeRejected, feedback)
	default:
		return fail(OutcomeWorkerFailure, fmt.Sprintf("invalid review outcome %q", result.Status))
	}
}

// runWorker spawns a worker, watches it, and reads its result. A non-empty
// reason means the worker failed before producing a usable result.
func (o *Orchestrator) runWorker(ctx context.Context, st *RunState, item *types.WorkItem, phase Phase, attempt int, bundle *contextpack.Bundle, profile worker.Profile, log zerolog.Logger) (worker.Result, string) {
	role := worker.RoleCoder
	if phase == PhaseReview {
		role = worker.RoleReviewer
	}
	activity := worker.NewActivity(o.now())
	h, err := o.deps.Spawner.Spawn(ctx, bundle.PromptPath, profile, worker.SpawnOptions{
		Dir:        o.cfg.RepoDir,
		ResultPath: bundle.ResultPath,
		ConfigPath: bundle.ConfigPath,
		OnOutput: func(chunk []byte) {
			now := o.now()
			activity.Touch(now)
			st.touch(now)
			o.publish(ctx, &eventbus.Event{
				Type:      eventbus.EventAgentOutput,
				ProjectID: item.ProjectID,
				ItemID:    item.ID,
				Phase:     string(phase),
				Attempt:   attempt,
				Role:      string(role),
				Output:    string(chunk),
			})
		},
	})
	if err != nil {
		return worker.Result{}, fmt.Sprintf("spawn %s: %v", role, err)
	}
	st.setHandle(h)
	defer st.setHandle(nil)
	log.Info().Str("profile", profile.Name).Str("role", string(role)).Msg("worker started")
	o.publish(ctx, &eventbus.Event{Type: eventbus.EventAgentStarted, ProjectID: item.ProjectID, ItemID: item.ID, Phase: string(phase), Attempt: attempt, Role: string(role)})

	wd := worker.Watchdog{Timeout: o.cfg.InactivityTimeout, Now: o.deps.Now}
	inactive := wd.Watch(ctx, h, activity)
	code := h.ExitCode()
	o.publish(ctx, &eventbus.Event{Type: eventbus.EventAgentCompleted, ProjectID: item.ProjectID, ItemID: item.ID, Phase: string(phase), Attempt: attempt, Role: string(role), ExitCode: &code})
	log.Info().Int("exit_code", code).Bool("inactive", inactive).Msg("worker exited")

	if inactive {
		return worker.Result{}, fmt.Sprintf("%s produced no output for %s and was killed", role, o.cfg.InactivityTimeout)
	}
	if ctx.Err() != nil {
		return worker.Result{}, fmt.Sprintf("%s cancelled: %v", role, ctx.Err())
	}
	result, err := worker.ReadResult(bundle.ResultPath)
	if err != nil {
		return worker.Result{}, fmt.Sprintf("%s exited with code %d: %v", role, code, err)
	}
	return result, ""
}

func (o *Orchestrator) prepareBranch(ctx context.Context, branch string, fresh bool, log zerolog.Logger) error {
	if !fresh {
		if err := o.deps.Git.CreateOrCheckoutBranch(ctx, o.cfg.RepoDir, branch, o.cfg.BaseBranch); err != nil {
			return fmt.Errorf("checkout %s: %w", branch, err)
		}
		return nil
	}
	// Leftovers from an earlier, requeued run of the same item.
	if err := o.deps.Git.DeleteBranch(ctx, o.cfg.RepoDir, branch); err != nil {
		log.Debug().Err(err).Str("branch", branch).Msg("no previous branch to delete")
	}
	if err := o.deps.Git.CreateBranch(ctx, o.cfg.RepoDir, branch, o.cfg.BaseBranch); err != nil {
		return fmt.Errorf("create %s: %w", branch, err)
	}
	return nil
}

// complete closes an approved item and runs the post-merge steps. Each step
// after the merge is best-effort.
func (o *Orchestrator) complete(ctx context.Context, st *RunState, item *types.WorkItem, coded, reviewed *AttemptResult, log zerolog.Logger) {
	reason := reviewed.Summary
	if reason == "" {
		reason = coded.Summary
	}
	if reason == "" {
		reason = "approved"
	}
	if _, err := o.deps.Store.CloseItem(ctx, item.ProjectID, item.ID, reason); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug().Err(err).Msg("item already closed")
		} else {
			log.Error().Err(err).Msg("close after merge failed")
		}
	}

	sess := &archive.Session{
		ProjectID:  item.ProjectID,
		ItemID:     item.ID,
		Phase:      string(PhaseReview),
		Attempt:    reviewed.Attempt,
		Outcome:    archive.OutcomeApproved,
		Summary:    coded.Summary,
		Reason:     reviewed.Summary,
		Diff:       coded.Diff,
		TestOutput: coded.TestOutput,
		Issues:     reviewed.Issues,
		StartedAt:  coded.StartedAt,
		EndedAt:    reviewed.EndedAt,
	}
	o.record(ctx, sess, log)

	// A reviewer that merged on its own may leave the item branch checked out.
	if err := o.deps.Git.Checkout(ctx, o.cfg.RepoDir, o.cfg.BaseBranch); err != nil {
		log.Warn().Err(err).Msg("checkout base branch failed")
	} else if err := o.deps.Git.DeleteBranch(ctx, o.cfg.RepoDir, git.BranchName(item.ID)); err != nil {
		log.Warn().Err(err).Msg("delete branch failed")
	}

	st.incCompleted()
	o.deps.Metrics.Completed(ctx, item.ProjectID)
	o.publish(ctx, &eventbus.Event{
		Type:      eventbus.EventItemStatusChanged,
		ProjectID: item.ProjectID,
		ItemID:    item.ID,
		OldStatus: types.StatusInProgress,
		NewStatus: types.StatusClosed,
		Message:   reason,
	})
	log.Info().Int("attempt", reviewed.Attempt).Msg("item completed")

	if o.deps.Deployer != nil {
		if err := o.deps.Deployer.Trigger(ctx, item.ProjectID, item.ID); err != nil {
			log.Warn().Err(err).Msg("deploy trigger failed")
		}
	}
}

// escalate asks for a retry/return-to-queue call. It returns true for retry.
// Evaluator errors fall back to the default, which is return to queue.
func (o *Orchestrator) escalate(ctx context.Context, item *types.WorkItem, attempt int, last *AttemptResult, history []string, log zerolog.Logger) bool {
	o.deps.Metrics.Escalated(ctx, item.ProjectID)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %q exhausted %d automatic retries (attempt %d, %s phase).\n", item.ID, item.Title, o.cfg.RetryLimit, attempt, last.Phase)
	fmt.Fprintf(&b, "Last %s: %s\n", last.Outcome, tail(last.Reason, maxReasonLen))
	if len(history) > 0 {
		b.WriteString("\nHistory:\n")
		for _, h := range history {
			b.WriteString("- " + firstLine(h) + "\n")
		}
	}
	req := decision.Request{
		ProjectID:      item.ProjectID,
		ItemID:         item.ID,
		PolicyKey:      EscalationPolicy,
		Description:    b.String(),
		Options:        []string{ChoiceRetry, ChoiceRequeue},
		DefaultApprove: false,
	}.Normalize(o.now())

	o.publish(ctx, &eventbus.Event{
		Type:      eventbus.EventItemEscalated,
		ProjectID: item.ProjectID,
		ItemID:    item.ID,
		Phase:     string(last.Phase),
		Attempt:   attempt,
		Message:   firstLine(last.Reason),
	})
	log.Warn().Str("decision", req.ID).Str("outcome", string(last.Outcome)).Msg("escalating")

	d, err := o.deps.Decisions.Evaluate(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("decision failed, using default")
		d = decision.Default(req, "orchestrator")
	}
	log.Info().Bool("retry", d.Approved).Str("choice", d.Choice).Str("by", d.RespondedBy).Bool("defaulted", d.Defaulted).Msg("escalation resolved")
	return d.Approved
}

func (o *Orchestrator) requeueOrAbort(ctx context.Context, st *RunState, item *types.WorkItem, last *AttemptResult, log zerolog.Logger) itemResult {
	if ctx.Err() != nil {
		o.abandon(ctx, item, log)
		return resultAborted
	}
	o.requeue(ctx, st, item, last, log)
	return resultRequeued
}

// requeue returns an escalated item to the open pool.
func (o *Orchestrator) requeue(ctx context.Context, st *RunState, item *types.WorkItem, last *AttemptResult, log zerolog.Logger) {
	o.revert(ctx, log)
	if _, err := o.deps.Store.ReopenItem(ctx, item.ProjectID, item.ID); err != nil {
		log.Error().Err(err).Msg("reopen failed")
	}
	if _, err := o.deps.Store.UpdateItem(ctx, item.ProjectID, item.ID, storage.ItemUpdate{
		Extra: types.Attributes{types.AttrEscalatedAt: types.Time(o.now())},
	}); err != nil {
		log.Warn().Err(err).Msg("stamp escalated_at failed")
	}

	sess := last.session(item.ProjectID, item.ID, archive.OutcomeReturned)
	sess.EndedAt = o.now()
	o.record(ctx, sess, log)

	st.incFailed()
	o.deps.Metrics.Failed(ctx, item.ProjectID, string(last.Outcome))
	o.publish(ctx, &eventbus.Event{
		Type:      eventbus.EventItemStatusChanged,
		ProjectID: item.ProjectID,
		ItemID:    item.ID,
		OldStatus: types.StatusInProgress,
		NewStatus: types.StatusOpen,
		Message:   "returned to queue",
	})
	log.Warn().Msg("item returned to queue")
}

// abandon releases an item when the loop is cancelled mid-flight.
func (o *Orchestrator) abandon(ctx context.Context, item *types.WorkItem, log zerolog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	o.revert(cctx, log)
	if _, err := o.deps.Store.ReopenItem(cctx, item.ProjectID, item.ID); err != nil {
		log.Error().Err(err).Msg("reopen after cancel failed")
		return
	}
	log.Info().Msg("loop cancelled, item reopened")
}

func (o *Orchestrator) revert(ctx context.Context, log zerolog.Logger) {
	if err := o.deps.Git.RevertAndReturnToMain(ctx, o.cfg.RepoDir, o.cfg.BaseBranch); err != nil {
		log.Warn().Err(err).Msg("revert failed")
	}
}

func (o *Orchestrator) stampRetry(ctx context.Context, item *types.WorkItem, log zerolog.Logger) {
	if _, err := o.deps.Store.UpdateItem(ctx, item.ProjectID, item.ID, storage.ItemUpdate{
		Extra: types.Attributes{types.AttrLastAutoRetryAt: types.Time(o.now())},
	}); err != nil {
		log.Warn().Err(err).Msg("stamp last_auto_retry_at failed")
	}
}

func (o *Orchestrator) record(ctx context.Context, s *archive.Session, log zerolog.Logger) {
	if o.deps.Archive == nil {
		return
	}
	if err := o.deps.Archive.Record(ctx, s); err != nil {
		log.Warn().Err(err).Str("outcome", string(s.Outcome)).Msg("archive session failed")
	}
}

func (o *Orchestrator) finishAttempt(ctx context.Context, project string, res *AttemptResult, outcome Outcome, reason string) *AttemptResult {
	res.Outcome = outcome
	res.Reason = reason
	res.EndedAt = o.now()
	o.deps.Metrics.Phase(ctx, project, string(res.Phase), string(outcome), res.EndedAt.Sub(res.StartedAt))
	return res
}

func commitMessage(item *types.WorkItem, summary string) string {
	msg := fmt.Sprintf("%s: %s", item.ID, item.Title)
	if summary != "" {
		msg += "\n\n" + summary
	}
	return msg
}

func mergeMessage(item *types.WorkItem) string {
	return fmt.Sprintf("Merge %s: %s", git.BranchName(item.ID), item.Title)
}

func issueStrings(issues []worker.Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.String()
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// tail keeps the last n bytes of s, where test failures usually are.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
