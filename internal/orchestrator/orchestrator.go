// Package orchestrator drives ready work items through the build pipeline:
// code, test, review, merge. Each project runs one control loop that picks
// the next ready item, hands it to external workers, retries failures up to
// a bound and escalates to a human decision when the bound is exhausted.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/beadforge/forge/internal/decision"
	"github.com/beadforge/forge/internal/eventbus"
	"github.com/beadforge/forge/internal/git"
	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/telemetry"
	"github.com/beadforge/forge/internal/types"
	"github.com/beadforge/forge/internal/worker"
)

const (
	// DefaultPollInterval is the fixed delay after an empty or blocked ready set.
	DefaultPollInterval = 5 * time.Second
	// DefaultRequeueDelay is the pause after an item is returned to the queue.
	DefaultRequeueDelay = 10 * time.Second
	// DefaultRetryLimit bounds failures and rejections independently.
	DefaultRetryLimit = 3
	// DefaultInactivityTimeout kills workers that produce no output.
	DefaultInactivityTimeout = 10 * time.Minute
	// DefaultIdentity is the assignee recorded on claimed items.
	DefaultIdentity = "forge-agent"

	// EscalationPolicy is the decision policy key used on escalation.
	EscalationPolicy = "build.escalation"
	ChoiceRetry      = "retry"
	ChoiceRequeue    = "return_to_queue"
)

// ErrAlreadyRunning is returned by Run when the project already has a loop.
var ErrAlreadyRunning = errors.New("orchestrator already running for project")

// Config holds the orchestrator configuration.
type Config struct {
	RetryLimit        int
	PollInterval      time.Duration
	RequeueDelay      time.Duration
	InactivityTimeout time.Duration
	// Identity is the assignee written when an item is claimed.
	Identity   string
	RepoDir    string
	BaseBranch string
	Author     git.Signature
}

// Deps are the collaborators. Store, Git, Assembler, Spawner and Profiles
// are required.
type Deps struct {
	Store     Store
	Git       git.Brancher
	Assembler Assembler
	Spawner   worker.Spawner
	Profiles  ProfileSelector
	Tests     TestRunner         // Default: always pass
	Decisions decision.Evaluator // Default: policy with no approvals
	Archive   Archiver           // Optional
	Deployer  Deployer           // Optional
	Events    EventSink          // Optional
	Metrics   *telemetry.BuildMetrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Orchestrator runs per-project build loops against a shared store.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	registry *Registry
	log      zerolog.Logger
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	var missing []string
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Git == nil {
		missing = append(missing, "git")
	}
	if deps.Assembler == nil {
		missing = append(missing, "assembler")
	}
	if deps.Spawner == nil {
		missing = append(missing, "spawner")
	}
	if deps.Profiles == nil {
		missing = append(missing, "profiles")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator: missing collaborators: %v", missing)
	}

	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = DefaultRetryLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = DefaultRequeueDelay
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.Identity == "" {
		cfg.Identity = DefaultIdentity
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.Author.Name == "" {
		cfg.Author.Name = cfg.Identity
	}
	if cfg.Author.Email == "" {
		cfg.Author.Email = cfg.Author.Name + "@localhost"
	}
	if cfg.RepoDir == "" {
		cfg.RepoDir = "."
	}
	if deps.Tests == nil {
		deps.Tests = ShellTestRunner{}
	}
	if deps.Decisions == nil {
		deps.Decisions = &decision.AutoPolicy{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		registry: NewRegistry(),
		log:      deps.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Registry exposes per-project run state for status display.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Run drives the project's loop until ctx is cancelled. Only one loop per
// project may run at a time.
func (o *Orchestrator) Run(ctx context.Context, project string) error {
	st := o.registry.Get(project)
	if !st.acquire() {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, project)
	}
	defer st.release()

	log := o.log.With().Str("project", project).Logger()
	log.Info().
		Int("retry_limit", o.cfg.RetryLimit).
		Dur("poll_interval", o.cfg.PollInterval).
		Str("base_branch", o.cfg.BaseBranch).
		Msg("build loop starting")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("build loop shutting down")
			return ctx.Err()
		case <-timer.C:
			timer.Reset(o.Step(ctx, project))
		}
	}
}

// Step runs one iteration: pick the next ready item and drive it to a
// terminal outcome. It returns the delay before the next iteration.
func (o *Orchestrator) Step(ctx context.Context, project string) time.Duration {
	st := o.registry.Get(project)
	log := o.log.With().Str("project", project).Logger()

	item, err := o.next(ctx, project)
	if err != nil {
		log.Error().Err(err).Msg("ready query failed")
		st.idle()
		return o.cfg.PollInterval
	}
	if item == nil {
		st.idle()
		o.publish(ctx, &eventbus.Event{Type: eventbus.EventLoopIdle, ProjectID: project, Phase: string(PhaseIdle)})
		return o.cfg.PollInterval
	}

	claimed, err := o.claim(ctx, project, item)
	if err != nil {
		log.Warn().Err(err).Str("item", item.ID).Msg("claim failed")
		return o.cfg.PollInterval
	}

	switch o.work(ctx, st, claimed) {
	case resultRequeued:
		return o.cfg.RequeueDelay
	default:
		return 0
	}
}

// next returns the first ready item whose blockers are still closed. The
// ready set may be stale by the time it is read, so each candidate is
// re-checked.
func (o *Orchestrator) next(ctx context.Context, project string) (*types.WorkItem, error) {
	ready, err := o.deps.Store.GetReadyWork(ctx, project)
	if err != nil {
		return nil, err
	}
	for _, it := range ready {
		ok, err := o.deps.Store.AreAllBlockersClosed(ctx, it.ID)
		if err != nil {
			o.log.Debug().Err(err).Str("item", it.ID).Msg("blocker check failed")
			continue
		}
		if ok {
			return it, nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) claim(ctx context.Context, project string, item *types.WorkItem) (*types.WorkItem, error) {
	status := types.StatusInProgress
	identity := o.cfg.Identity
	updated, err := o.deps.Store.UpdateItem(ctx, project, item.ID, storage.ItemUpdate{
		Status:   &status,
		Assignee: &identity,
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, &eventbus.Event{
		Type:      eventbus.EventItemStatusChanged,
		ProjectID: project,
		ItemID:    item.ID,
		OldStatus: item.Status,
		NewStatus: updated.Status,
	})
	return updated, nil
}

func (o *Orchestrator) publish(ctx context.Context, ev *eventbus.Event) {
	if o.deps.Events == nil {
		return
	}
	o.deps.Events.Publish(ctx, ev)
}

func (o *Orchestrator) now() time.Time { return o.deps.Now() }
