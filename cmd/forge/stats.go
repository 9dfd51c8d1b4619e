package main

import (
	"github.com/spf13/cobra"

	"github.com/beadforge/forge/internal/ui"
)

func newStatsCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:     "stats",
		GroupID: "views",
		Short:   "Show item counts for a project",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.store.GetStatistics(cmd.Context(), a.project(project))
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return outputJSON(a.out, st)
			}
			ui.RenderStatistics(a.out, st)
			return nil
		},
	}
	addProjectFlag(cmd, &project)
	return cmd
}

func newFlushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "flush",
		GroupID: "maint",
		Short:   "Write the graph to disk now",
		Long: `Write the graph to disk now instead of waiting for the debounced
background flush. Every command flushes on exit, so this is mostly useful
in scripts that copy the data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.Flush(cmd.Context()); err != nil {
				return err
			}
			if a.jsonOutput() {
				return outputJSON(a.out, map[string]string{"status": "flushed", "path": a.cfg.StorePath()})
			}
			a.okf("Flushed %s", a.cfg.StorePath())
			return nil
		},
	}
}
