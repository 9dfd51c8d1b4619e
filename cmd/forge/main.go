package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/beadforge/forge/internal/config"
	"github.com/beadforge/forge/internal/logging"
	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/storage/memory"
	"github.com/beadforge/forge/internal/telemetry"
	"github.com/beadforge/forge/internal/ui"
)

// DefaultProject is used when neither --project, FORGE_PROJECT nor
// config.yaml names one.
const DefaultProject = "default"

// Commands annotated with noStore run without opening the graph, so they
// work while another process (usually `forge run`) holds the store lock.
const annotationNoStore = "forge/no-store"

var noStore = map[string]string{annotationNoStore: "true"}

// app is the per-invocation state set up by the root command.
type app struct {
	v          *viper.Viper
	configFile string

	cfg      *config.Config
	log      zerolog.Logger
	closeLog func()
	store    storage.Storage

	out    io.Writer
	errOut io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		FatalError("%v", err)
	}
}

// execute runs one command line and releases everything it opened.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, a := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *app) {
	a := &app{v: config.New(), out: stdout, errOut: stderr, closeLog: func() {}, log: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "forge",
		Short: "forge - durable task graph and build orchestrator",
		Long: `forge keeps a dependency-aware graph of work items and drives them
through coding, testing, review and merge with external agent processes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Config file (default: <data-dir>/config.yaml)")
	pf.String("data-dir", config.DefaultDataDir, "Directory holding the graph, archive and config")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.String("log-file", "", "Write logs to this file instead of stderr")
	pf.Bool("json", false, "Output in JSON format")
	pf.String("actor", "", "Actor name recorded on decisions (default: $USER)")
	for key, flag := range map[string]string{
		config.KeyDataDir:  "data-dir",
		config.KeyLogLevel: "log-level",
		config.KeyLogFile:  "log-file",
		config.KeyJSON:     "json",
		config.KeyActor:    "actor",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddGroup(&cobra.Group{ID: "items", Title: "Working With Items:"})
	root.AddGroup(&cobra.Group{ID: "views", Title: "Views & Reports:"})
	root.AddGroup(&cobra.Group{ID: "deps", Title: "Dependencies & Structure:"})
	root.AddGroup(&cobra.Group{ID: "build", Title: "Build Orchestration:"})
	root.AddGroup(&cobra.Group{ID: "maint", Title: "Maintenance:"})

	root.AddCommand(
		newCreateCmd(a),
		newUpdateCmd(a),
		newCloseCmd(a),
		newReopenCmd(a),
		newDepCmd(a),
		newReadyCmd(a),
		newBlockedCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newDeleteCmd(a),
		newStatsCmd(a),
		newFlushCmd(a),
		newRunCmd(a),
		newDecideCmd(a),
		newSessionsCmd(a),
		newVersionCmd(a),
	)
	return root, a
}

// setup loads configuration, builds the logger and opens the store unless
// the command opted out.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.File == "" && ui.IsTerminal(),
		Stderr:  a.errOut,
	})
	if err != nil {
		return err
	}
	a.log, a.closeLog = log, closeLog

	ui.Init()
	if err := telemetry.Init(cmd.Context(), "forge", Version); err != nil {
		a.log.Warn().Err(err).Msg("telemetry disabled")
	}

	if cmd.Annotations[annotationNoStore] == "true" {
		return nil
	}
	return a.openStore(cmd.Context())
}

func (a *app) openStore(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := memory.Open(ctx, memory.Config{
		Path:          a.cfg.StorePath(),
		IDPrefix:      a.idPrefix(),
		FlushDebounce: a.cfg.Store.FlushDebounce,
		Logger:        a.log,
	})
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return fmt.Errorf("%w (is `forge run` active on %s?)", err, a.cfg.DataDir)
		}
		return fmt.Errorf("open store: %w", err)
	}
	a.store = telemetry.WrapStorage(st)
	return nil
}

// idPrefix lets config.yaml's top-level id-prefix override store.id-prefix.
func (a *app) idPrefix() string {
	if local := config.LoadLocalConfig(a.cfg.DataDir); local.IDPrefix != "" {
		return local.IDPrefix
	}
	return a.cfg.Store.IDPrefix
}

// project resolves the project for a command: flag, then FORGE_PROJECT,
// then config.yaml, then DefaultProject.
func (a *app) project(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if local := config.LoadLocalConfigWithEnv(a.cfg.DataDir); local.Project != "" {
		return local.Project
	}
	return DefaultProject
}

func (a *app) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if terr := telemetry.Shutdown(context.Background()); terr != nil {
		a.log.Debug().Err(terr).Msg("telemetry shutdown")
	}
	a.closeLog()
	return err
}

func (a *app) jsonOutput() bool {
	return a.cfg != nil && a.cfg.JSON
}

func addProjectFlag(cmd *cobra.Command, p *string) {
	cmd.Flags().StringVarP(p, "project", "p", "", "Project (default: $FORGE_PROJECT, config.yaml, or \"default\")")
}
