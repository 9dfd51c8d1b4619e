package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
)

func newCloseCmd(a *app) *cobra.Command {
	var (
		project string
		reason  string
	)
	cmd := &cobra.Command{
		Use:     "close <id>...",
		GroupID: "items",
		Short:   "Close one or more work items",
		Long: `Close one or more work items.

Items that are already closed are reported and skipped. Closing an item
makes everything it blocks eligible for the ready queue.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			proj := a.project(project)
			closed := []*types.WorkItem{}
			var errs []error
			for _, id := range args {
				item, err := a.store.CloseItem(ctx, proj, id, reason)
				switch {
				case errors.Is(err, storage.ErrAlreadyClosed):
					a.warnf("%s is already closed", id)
				case err != nil:
					errs = append(errs, fmt.Errorf("close %s: %w", id, err))
				default:
					closed = append(closed, item)
				}
			}
			if a.jsonOutput() {
				if err := outputJSON(a.out, closed); err != nil {
					return err
				}
			} else {
				for _, it := range closed {
					a.okf("Closed %s: %s", it.ID, reason)
				}
			}
			return errors.Join(errs...)
		},
	}
	addProjectFlag(cmd, &project)
	cmd.Flags().StringVarP(&reason, "reason", "r", "Closed", "Reason for closing")
	return cmd
}

func newReopenCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:     "reopen <id>...",
		GroupID: "items",
		Short:   "Reopen work items",
		Long:    `Reopen work items. The status returns to open and the assignee is cleared.`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			proj := a.project(project)
			reopened := []*types.WorkItem{}
			var errs []error
			for _, id := range args {
				item, err := a.store.ReopenItem(ctx, proj, id)
				if err != nil {
					errs = append(errs, fmt.Errorf("reopen %s: %w", id, err))
					continue
				}
				reopened = append(reopened, item)
			}
			if a.jsonOutput() {
				if err := outputJSON(a.out, reopened); err != nil {
					return err
				}
			} else {
				for _, it := range reopened {
					a.okf("Reopened %s", it.ID)
				}
			}
			return errors.Join(errs...)
		},
	}
	addProjectFlag(cmd, &project)
	return cmd
}
