package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		project        string
		explicitID     string
		description    string
		kind           string
		parent         string
		assignee       string
		priority       int
		complexity     int
		labels         []string
		blockedBy      []string
		discoveredFrom string
	)
	cmd := &cobra.Command{
		Use:     "create <title>",
		GroupID: "items",
		Short:   "Create a work item",
		Long: `Create a work item.

With --parent the item gets a hierarchical id under the parent (fg-a3f8.1)
and a parent-child edge. If the child id keeps colliding the item is created
standalone and a warning is printed.

--id sets the id explicitly. A hierarchical id such as fg-a3f8.4 needs its
parent to exist and is linked to it like an allocated child.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if explicitID != "" && parent != "" {
				return errors.New("cannot specify both --id and --parent")
			}
			item := &types.WorkItem{
				ID:          explicitID,
				ProjectID:   a.project(project),
				Title:       strings.Join(args, " "),
				Description: description,
				Kind:        types.ItemKind(kind),
				Priority:    priority,
				Assignee:    assignee,
				Labels:      labels,
			}
			if cmd.Flags().Changed("complexity") {
				item.Complexity = &complexity
			}
			if discoveredFrom != "" {
				item.Extra = types.Attributes{types.AttrDiscoveredFrom: types.String(discoveredFrom)}
			}

			res, err := a.store.CreateItemWithRetry(ctx, item,
				storage.CreateOptions{ParentID: parent},
				storage.RetryOptions{FallbackToStandalone: parent != ""})
			if err != nil {
				return fmt.Errorf("create: %w", err)
			}
			created := res.Item
			if res.Standalone {
				a.warnf("could not allocate a child id under %s; created %s standalone", parent, created.ID)
			}

			for _, b := range blockedBy {
				dep := &types.Dependency{FromID: created.ID, ToID: b, Type: types.DepBlocks}
				if err := a.store.AddDependency(ctx, dep); err != nil {
					return fmt.Errorf("add blocker %s: %w", b, err)
				}
			}
			if discoveredFrom != "" {
				dep := &types.Dependency{FromID: created.ID, ToID: discoveredFrom, Type: types.DepDiscoveredFrom}
				if err := a.store.AddDependency(ctx, dep); err != nil {
					return fmt.Errorf("link %s: %w", discoveredFrom, err)
				}
			}

			if a.jsonOutput() {
				return outputJSON(a.out, created)
			}
			a.okf("Created %s: %s", created.ID, created.Title)
			return nil
		},
	}
	addProjectFlag(cmd, &project)
	f := cmd.Flags()
	f.StringVar(&explicitID, "id", "", "Explicit item id (e.g. fg-42 or fg-42.3)")
	f.StringVarP(&description, "description", "d", "", "Item description")
	f.StringVarP(&kind, "kind", "k", string(types.KindTask), "Item kind (epic, task, bug, chore, feature)")
	f.StringVar(&parent, "parent", "", "Parent item id")
	f.StringVarP(&assignee, "assignee", "a", "", "Assignee")
	f.IntVarP(&priority, "priority", "P", 2, "Priority (0 is most urgent)")
	f.IntVar(&complexity, "complexity", 0, "Complexity 1-10, used to pick a worker profile")
	f.StringSliceVarP(&labels, "label", "l", nil, "Labels (repeatable)")
	f.StringSliceVar(&blockedBy, "blocked-by", nil, "Ids this item waits on (repeatable)")
	f.StringVar(&discoveredFrom, "discovered-from", "", "Item this work was discovered while doing")
	return cmd
}
