package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beadforge/forge/internal/decision"
	"github.com/beadforge/forge/internal/ui"
)

func newDecideCmd(a *app) *cobra.Command {
	var (
		approve   bool
		reject    bool
		rationale string
		full      bool
	)
	cmd := &cobra.Command{
		Use:         "decide [request-id]",
		GroupID:     "build",
		Short:       "List or answer pending escalations",
		Annotations: noStore,
		Long: `List or answer escalations waiting in the decision directory.

Used with decision.mode=file: a running orchestrator writes one request per
escalated item and waits for the answer. Without an id, pending requests are
listed. With an id, exactly one of --approve or --reject is required.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Decision.Dir
			if len(args) == 0 {
				return listPending(a, dir, full)
			}
			if approve == reject {
				return errors.New("exactly one of --approve or --reject is required")
			}
			d, err := decision.Respond(dir, args[0], approve, a.cfg.Actor, rationale)
			if err != nil {
				return fmt.Errorf("respond to %s: %w", args[0], err)
			}
			if a.jsonOutput() {
				return outputJSON(a.out, d)
			}
			a.okf("Answered %s: %s", args[0], d.Choice)
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "Take the first option (retry)")
	cmd.Flags().BoolVar(&reject, "reject", false, "Take the second option (return to queue)")
	cmd.Flags().StringVarP(&rationale, "rationale", "m", "", "Why")
	cmd.Flags().BoolVar(&full, "full", false, "Show full request descriptions")
	return cmd
}

func listPending(a *app, dir string, full bool) error {
	pending, err := decision.Pending(dir)
	if err != nil {
		return err
	}
	if a.jsonOutput() {
		if pending == nil {
			pending = []*decision.Request{}
		}
		return outputJSON(a.out, pending)
	}
	if len(pending) == 0 {
		fmt.Fprintln(a.out, "No pending decisions.")
		return nil
	}
	for i, r := range pending {
		if i > 0 {
			fmt.Fprintln(a.out, ui.RenderSeparator())
		}
		fmt.Fprintf(a.out, "%s  %s/%s  %s\n", ui.RenderID(r.ID), r.ProjectID, r.ItemID, ui.RenderMuted(r.PolicyKey))
		desc := r.Description
		if !full {
			desc = ui.TruncateLines(desc, 20, 3)
		}
		fmt.Fprintf(a.out, "%s\n", ui.Indent(desc, "  "))
		if len(r.Options) >= 2 {
			fmt.Fprintf(a.out, "  --approve: %s   --reject: %s\n", r.Options[0], r.Options[1])
		}
	}
	return nil
}
