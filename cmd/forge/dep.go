package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beadforge/forge/internal/types"
	"github.com/beadforge/forge/internal/ui"
)

func newDepCmd(a *app) *cobra.Command {
	dep := &cobra.Command{
		Use:     "dep",
		GroupID: "deps",
		Short:   "Manage dependencies between items",
	}
	dep.AddCommand(newDepAddCmd(a), newDepRemoveCmd(a), newDepListCmd(a))
	return dep
}

func newDepAddCmd(a *app) *cobra.Command {
	var depType string
	cmd := &cobra.Command{
		Use:   "add <item> <depends-on>",
		Short: "Add a dependency edge",
		Long: `Add a dependency edge from <item> to <depends-on>.

  blocks          <item> cannot start until <depends-on> is closed (default)
  parent-child    <item> is a child of <depends-on>
  discovered-from <item> was found while working on <depends-on>

Adding an edge that already exists is a no-op.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := types.DependencyType(depType)
			if !t.IsValid() {
				return fmt.Errorf("invalid dependency type %q", depType)
			}
			d := &types.Dependency{FromID: args[0], ToID: args[1], Type: t}
			if err := a.store.AddDependency(cmd.Context(), d); err != nil {
				return fmt.Errorf("add dependency: %w", err)
			}
			if a.jsonOutput() {
				return outputJSON(a.out, d)
			}
			a.okf("Added %s: %s -> %s", t, args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVarP(&depType, "type", "t", string(types.DepBlocks), "Edge type (blocks, parent-child, discovered-from)")
	return cmd
}

func newDepRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <item> <depends-on>",
		Aliases: []string{"remove"},
		Short:   "Remove a dependency edge",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.RemoveDependency(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("remove dependency: %w", err)
			}
			if a.jsonOutput() {
				return outputJSON(a.out, map[string]string{"from_id": args[0], "to_id": args[1], "status": "removed"})
			}
			a.okf("Removed %s -> %s", args[0], args[1])
			return nil
		},
	}
}

func newDepListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <item>",
		Short: "List edges touching an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := a.store.GetDependencies(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return outputJSON(a.out, deps)
			}
			if len(deps) == 0 {
				fmt.Fprintf(a.out, "%s has no dependencies\n", args[0])
				return nil
			}
			for _, d := range deps {
				fmt.Fprintf(a.out, "%s %s %s\n", ui.RenderID(d.FromID), ui.RenderMuted(edgeVerb(d.Type)), ui.RenderID(d.ToID))
			}
			return nil
		},
	}
}

func edgeVerb(t types.DependencyType) string {
	switch t {
	case types.DepBlocks:
		return "waits on"
	case types.DepParentChild:
		return "is a child of"
	case types.DepDiscoveredFrom:
		return "was discovered from"
	}
	return string(t)
}
