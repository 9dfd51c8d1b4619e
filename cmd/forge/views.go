package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/beadforge/forge/internal/types"
	"github.com/beadforge/forge/internal/ui"
)

func newReadyCmd(a *app) *cobra.Command {
	var (
		project string
		limit   int
	)
	cmd := &cobra.Command{
		Use:     "ready",
		GroupID: "views",
		Short:   "Show items that can be worked on now",
		Long: `Show open, non-epic items whose blockers are all closed and whose
containing epics are not blocked, most urgent first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := a.store.GetReadyWork(cmd.Context(), a.project(project))
			if err != nil {
				return err
			}
			if limit > 0 && len(items) > limit {
				items = items[:limit]
			}
			if a.jsonOutput() {
				if items == nil {
					items = []*types.WorkItem{}
				}
				return outputJSON(a.out, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(a.out, "No ready work.")
				return nil
			}
			fmt.Fprintf(a.out, "%s\n\n", ui.RenderAccent(fmt.Sprintf("Ready work (%d items)", len(items))))
			ui.RenderItems(a.out, items)
			return nil
		},
	}
	addProjectFlag(cmd, &project)
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most n items")
	return cmd
}

func newBlockedCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:     "blocked",
		GroupID: "views",
		Short:   "Show items waiting on open blockers",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			blocked, err := a.store.GetBlockedItems(cmd.Context(), a.project(project))
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				if blocked == nil {
					blocked = []*types.BlockedItem{}
				}
				return outputJSON(a.out, blocked)
			}
			if len(blocked) == 0 {
				fmt.Fprintln(a.out, "Nothing is blocked.")
				return nil
			}
			ui.RenderBlocked(a.out, blocked)
			return nil
		},
	}
	addProjectFlag(cmd, &project)
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var (
		project  string
		status   string
		kind     string
		assignee string
		parent   string
		sortBy   string
		labels   []string
		limit    int
	)
	cmd := &cobra.Command{
		Use:     "list",
		GroupID: "views",
		Short:   "List items in a project",
		Long: `List items in a project.

--sort takes a comma-separated field list with an optional -asc/-desc suffix,
e.g. "priority,created-desc".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := types.ItemFilter{
				Labels:   labels,
				ParentID: parent,
				Sort:     types.ParseSortOrder(sortBy),
				Limit:    limit,
			}
			if status != "" {
				s := types.Status(status)
				if !s.IsValid() {
					return fmt.Errorf("invalid status %q", status)
				}
				filter.Status = &s
			}
			if kind != "" {
				k := types.ItemKind(kind)
				filter.Kind = &k
			}
			if cmd.Flags().Changed("assignee") {
				filter.Assignee = &assignee
			}

			items, err := a.store.ListItems(cmd.Context(), a.project(project), filter)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				if items == nil {
					items = []*types.WorkItem{}
				}
				return outputJSON(a.out, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(a.out, "No items found.")
				return nil
			}
			ui.RenderItems(a.out, items)
			return nil
		},
	}
	addProjectFlag(cmd, &project)
	f := cmd.Flags()
	f.StringVarP(&status, "status", "s", "", "Only items with this status")
	f.StringVarP(&kind, "kind", "k", "", "Only items of this kind")
	f.StringVarP(&assignee, "assignee", "a", "", "Only items with this assignee (empty string for unassigned)")
	f.StringVar(&parent, "parent", "", "Only direct children of this item")
	f.StringSliceVarP(&labels, "label", "l", nil, "Only items carrying all these labels")
	f.StringVar(&sortBy, "sort", "", "Sort order (default: priority, then creation)")
	f.IntVarP(&limit, "limit", "n", 0, "Show at most n items")
	return cmd
}

// itemDetails is the JSON shape of `forge show`.
type itemDetails struct {
	*types.WorkItem
	Dependencies []*types.Dependency `json:"dependencies"`
	Children     []*types.WorkItem   `json:"children,omitempty"`
	Blockers     []string            `json:"blocked_by,omitempty"`
}

func newShowCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:     "show <id>",
		GroupID: "views",
		Short:   "Show an item with its edges and children",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			proj := a.project(project)
			item, err := a.store.GetItem(ctx, proj, args[0])
			if err != nil {
				return err
			}
			deps, err := a.store.GetDependencies(ctx, item.ID)
			if err != nil {
				return err
			}
			children, err := a.store.GetChildren(ctx, proj, item.ID)
			if err != nil {
				return err
			}
			blockers, err := a.store.GetBlockers(ctx, item.ID)
			if err != nil {
				return err
			}
			if deps == nil {
				deps = []*types.Dependency{}
			}
			d := itemDetails{WorkItem: item, Dependencies: deps, Children: children, Blockers: blockers}
			if a.jsonOutput() {
				return outputJSON(a.out, d)
			}
			renderDetails(a, d)
			return nil
		},
	}
	addProjectFlag(cmd, &project)
	return cmd
}

func renderDetails(a *app, d itemDetails) {
	w := a.out
	it := d.WorkItem
	fmt.Fprintf(w, "%s %s %s\n", ui.RenderStatusIcon(it.Status), ui.RenderID(it.ID), it.Title)
	fmt.Fprintf(w, "%s\n", ui.RenderSeparator())
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(w, "%-12s %s\n", ui.RenderMuted(name+":"), value)
		}
	}
	field("Project", it.ProjectID)
	field("Kind", string(it.Kind))
	field("Status", ui.RenderStatus(it.Status))
	field("Priority", ui.RenderPriority(it.Priority))
	field("Assignee", it.Assignee)
	if it.Complexity != nil {
		field("Complexity", fmt.Sprint(*it.Complexity))
	}
	field("Labels", strings.Join(it.Labels, ", "))
	field("Created", it.CreatedAt.Local().Format(time.DateTime))
	if it.StartedAt != nil {
		field("Started", it.StartedAt.Local().Format(time.DateTime))
	}
	if it.CompletedAt != nil {
		field("Completed", it.CompletedAt.Local().Format(time.DateTime))
	}
	field("Reason", it.CloseReason)

	if len(it.Extra) > 0 {
		keys := make([]string, 0, len(it.Extra))
		for k := range it.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "\n%s\n", ui.RenderCategory("Attributes"))
		for _, k := range keys {
			fmt.Fprintf(w, "  %s = %s\n", k, it.Extra[k].String())
		}
	}
	if it.Description != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", ui.RenderCategory("Description"), ui.Indent(ui.WrapText(it.Description, 80), "  "))
	}
	if len(d.Dependencies) > 0 {
		fmt.Fprintf(w, "\n%s\n", ui.RenderCategory("Dependencies"))
		for _, dep := range d.Dependencies {
			fmt.Fprintf(w, "  %s %s %s\n", dep.FromID, ui.RenderMuted(edgeVerb(dep.Type)), dep.ToID)
		}
	}
	if len(d.Blockers) > 0 {
		fmt.Fprintf(w, "\n%-12s %s\n", ui.RenderMuted("Blocked by:"), strings.Join(d.Blockers, ", "))
	}
	if len(d.Children) > 0 {
		fmt.Fprintf(w, "\n%s\n", ui.RenderCategory("Children"))
		for i, c := range d.Children {
			branch := ui.TreeChild
			if i == len(d.Children)-1 {
				branch = ui.TreeLast
			}
			fmt.Fprintf(w, "  %s%s %s %s\n", branch, ui.RenderStatusIcon(c.Status), ui.RenderID(c.ID), c.Title)
		}
	}
}
