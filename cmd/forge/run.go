package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/beadforge/forge/internal/archive"
	"github.com/beadforge/forge/internal/config"
	"github.com/beadforge/forge/internal/contextpack"
	"github.com/beadforge/forge/internal/decision"
	"github.com/beadforge/forge/internal/deploy"
	"github.com/beadforge/forge/internal/eventbus"
	"github.com/beadforge/forge/internal/executil"
	"github.com/beadforge/forge/internal/git"
	"github.com/beadforge/forge/internal/logging"
	"github.com/beadforge/forge/internal/orchestrator"
	"github.com/beadforge/forge/internal/telemetry"
	"github.com/beadforge/forge/internal/worker"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		projects []string
		once     bool
	)
	cmd := &cobra.Command{
		Use:     "run",
		GroupID: "build",
		Short:   "Drive ready items through code, test, review and merge",
		Long: `Run the build loop for one or more projects until interrupted.

Each project gets its own loop; at most one item per project is in flight.
Items are claimed in priority order, coded and reviewed by the agent
profiles in workers.profiles, tested with orchestrator.test-command, merged
into orchestrator.base-branch and closed. Repeated failures escalate through
decision.mode.

With --once each project takes a single step and the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			orch, cleanup, err := buildOrchestrator(ctx, a)
			if err != nil {
				return err
			}
			defer cleanup()

			projects = runProjects(a, projects)
			g, gctx := errgroup.WithContext(ctx)
			for _, p := range projects {
				if once {
					g.Go(func() error {
						orch.Step(gctx, p)
						return nil
					})
					continue
				}
				g.Go(func() error {
					err := orch.Run(gctx, p)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}
			runErr := g.Wait()

			snaps := orch.Registry().Snapshots()
			if a.jsonOutput() {
				if err := outputJSON(a.out, snaps); err != nil {
					return err
				}
			} else {
				for _, s := range snaps {
					fmt.Fprintf(a.out, "%s: %d completed, %d returned to queue\n", s.Project, s.Completed, s.Failed)
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringSliceVarP(&projects, "project", "p", nil, "Projects to build (repeatable; default: the configured project)")
	cmd.Flags().BoolVar(&once, "once", false, "Take one step per project and exit")
	return cmd
}

// runProjects dedupes the requested projects, falling back to the
// configured default.
func runProjects(a *app, requested []string) []string {
	var out []string
	for _, p := range requested {
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{a.project("")}
	}
	return out
}

// buildOrchestrator wires the orchestrator's collaborators from config.
// The returned cleanup closes the archive.
func buildOrchestrator(ctx context.Context, a *app) (*orchestrator.Orchestrator, func(), error) {
	cfg := a.cfg
	oc := cfg.Orchestrator
	if cfg.Workers.Profiles == "" {
		return nil, nil, fmt.Errorf("%s must name a worker profile catalog", config.KeyWorkerProfiles)
	}
	catalog, err := worker.LoadProfiles(cfg.Workers.Profiles)
	if err != nil {
		return nil, nil, err
	}

	gitExec := git.NewExecutor("git", &executil.RealExecutor{})
	repoDir, err := gitExec.RepoRoot(ctx, oc.RepoDir)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %q: %w", config.KeyRepoDir, oc.RepoDir, err)
	}

	arch, err := archive.Open(ctx, cfg.ArchivePath())
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = arch.Close() }

	asm, err := contextpack.New(a.store, arch, oc.WorkDir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	bus, err := buildEventBus(cfg.Events, a.log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		RetryLimit:        oc.RetryLimit,
		PollInterval:      oc.PollInterval,
		RequeueDelay:      oc.RequeueDelay,
		InactivityTimeout: oc.InactivityTimeout,
		Identity:          oc.Identity,
		RepoDir:           repoDir,
		BaseBranch:        oc.BaseBranch,
		Author:            git.Signature{Name: oc.Identity, Email: oc.Identity + "@localhost"},
	}, orchestrator.Deps{
		Store:     a.store,
		Git:       gitExec,
		Assembler: asm,
		Spawner:   &worker.ProcessSpawner{Log: logging.Component(a.log, "worker")},
		Profiles:  catalog,
		Tests:     orchestrator.ShellTestRunner{Command: oc.TestCommand},
		Decisions: buildEvaluator(cfg.Decision, a.log),
		Archive:   arch,
		Deployer:  deploy.New(oc.DeployCommand, repoDir, a.log),
		Events:    bus,
		Metrics:   telemetry.NewBuildMetrics(),
		Logger:    a.log,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}

func buildEventBus(ec config.EventsConfig, log zerolog.Logger) (*eventbus.Bus, error) {
	bus := eventbus.New(log)
	bus.Register(&eventbus.LogHandler{Log: logging.Component(log, "events")})
	if ec.Journal != "" {
		jh, err := eventbus.NewJournalHandler(ec.Journal)
		if err != nil {
			return nil, err
		}
		bus.Register(jh)
	}
	for _, h := range ec.Hooks {
		eh, err := eventbus.NewExternalHandler(eventbus.ExternalHandlerConfig(h))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.KeyEventsHooks, err)
		}
		bus.Register(eh)
	}
	return bus, nil
}

func buildEvaluator(dc config.DecisionConfig, log zerolog.Logger) decision.Evaluator {
	switch dc.Mode {
	case config.DecisionModePrompt:
		return &decision.Prompt{}
	case config.DecisionModeFile:
		return &decision.FileResponder{
			Dir:     dc.Dir,
			Timeout: dc.Timeout,
			Log:     logging.Component(log, "decision"),
		}
	default:
		approve := make(map[string]bool, len(dc.AutoApprove))
		for _, key := range dc.AutoApprove {
			approve[key] = true
		}
		return &decision.AutoPolicy{Approve: approve}
	}
}
