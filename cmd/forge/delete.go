package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/beadforge/forge/internal/ui"
)

func newDeleteCmd(a *app) *cobra.Command {
	var (
		project    string
		force      bool
		allProject bool
	)
	cmd := &cobra.Command{
		Use:     "delete [id...]",
		GroupID: "maint",
		Short:   "Delete items, or every item in a project",
		Long: `Delete items together with every edge that touches them.

With --project-items the whole project is removed. Without --force an
interactive confirmation is required.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			proj := a.project(project)
			if allProject == (len(args) > 0) {
				return errors.New("give item ids or --project-items, not both")
			}

			target := strings.Join(args, ", ")
			if allProject {
				target = "every item in project " + proj
			}
			if !force {
				ok, err := confirmDelete(target)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(a.out, "Aborted.")
					return nil
				}
			}

			var (
				n   int
				err error
			)
			if allProject {
				n, err = a.store.DeleteProject(ctx, proj)
			} else {
				n, err = a.store.DeleteItems(ctx, args)
			}
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			if a.jsonOutput() {
				return outputJSON(a.out, map[string]int{"deleted": n})
			}
			a.okf("Deleted %d item(s)", n)
			return nil
		},
	}
	addProjectFlag(cmd, &project)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation")
	cmd.Flags().BoolVar(&allProject, "project-items", false, "Delete every item in the project")
	return cmd
}

func confirmDelete(target string) (bool, error) {
	if !ui.IsTerminal() {
		return false, errors.New("refusing to delete without --force when not attached to a terminal")
	}
	var ok bool
	err := huh.NewConfirm().
		Title("Delete " + target + "?").
		Description("Edges touching deleted items are removed too. This cannot be undone.").
		Affirmative("Delete").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
