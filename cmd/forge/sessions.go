package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beadforge/forge/internal/archive"
	"github.com/beadforge/forge/internal/ui"
)

func newSessionsCmd(a *app) *cobra.Command {
	var (
		project string
		outcome string
		limit   int
		diff    bool
		full    bool
		noPager bool
	)
	cmd := &cobra.Command{
		Use:         "sessions <item>",
		GroupID:     "build",
		Short:       "Show archived build attempts for an item",
		Annotations: noStore,
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arch, err := archive.Open(cmd.Context(), a.cfg.ArchivePath())
			if err != nil {
				return err
			}
			defer func() { _ = arch.Close() }()

			sessions, err := arch.List(cmd.Context(), archive.Query{
				ProjectID: a.project(project),
				ItemID:    args[0],
				Outcome:   archive.Outcome(outcome),
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				if sessions == nil {
					sessions = []*archive.Session{}
				}
				return outputJSON(a.out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintf(a.out, "No sessions recorded for %s.\n", args[0])
				return nil
			}

			var b strings.Builder
			ui.RenderSessions(&b, sessions)
			if diff {
				for _, s := range sessions {
					if s.Diff == "" && s.TestOutput == "" {
						continue
					}
					fmt.Fprintf(&b, "\n%s %s attempt %d (%s)\n", ui.RenderCategory(s.Phase), ui.RenderID(s.ItemID), s.Attempt, s.Outcome)
					writeBlock(&b, s.Diff, full)
					if s.TestOutput != "" {
						fmt.Fprintf(&b, "%s\n", ui.RenderMuted("test output:"))
						writeBlock(&b, s.TestOutput, full)
					}
				}
			}
			return ui.ToPager(a.out, b.String(), ui.PagerOptions{NoPager: noPager})
		},
	}
	addProjectFlag(cmd, &project)
	f := cmd.Flags()
	f.StringVar(&outcome, "outcome", "", "Only sessions with this outcome (approved, rejected, failed, returned_to_queue)")
	f.IntVarP(&limit, "limit", "n", 0, "Show at most n sessions")
	f.BoolVar(&diff, "diff", false, "Include diffs and test output")
	f.BoolVar(&full, "full", false, "Do not truncate diffs")
	f.BoolVar(&noPager, "no-pager", false, "Do not pipe output through a pager")
	return cmd
}

func writeBlock(b *strings.Builder, s string, full bool) {
	if s == "" {
		return
	}
	if !full {
		s = ui.TruncateLines(s, 60, 25)
	}
	b.WriteString(s)
	if !strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
	}
}
