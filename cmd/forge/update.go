package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beadforge/forge/internal/storage"
	"github.com/beadforge/forge/internal/types"
)

func newUpdateCmd(a *app) *cobra.Command {
	var (
		project      string
		title        string
		description  string
		kind         string
		status       string
		assignee     string
		priority     int
		complexity   int
		addLabels    []string
		removeLabels []string
		attrs        []string
	)
	cmd := &cobra.Command{
		Use:     "update <id>",
		GroupID: "items",
		Short:   "Update fields of a work item",
		Long: `Update fields of a work item. Only flags that are given are changed.

--set key=value stores a string attribute; existing attributes with other
keys are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			var u storage.ItemUpdate
			if f.Changed("title") {
				u.Title = &title
			}
			if f.Changed("description") {
				u.Description = &description
			}
			if f.Changed("kind") {
				k := types.ItemKind(kind)
				u.Kind = &k
			}
			if f.Changed("status") {
				s := types.Status(status)
				if !s.IsValid() {
					return fmt.Errorf("invalid status %q", status)
				}
				u.Status = &s
			}
			if f.Changed("assignee") {
				u.Assignee = &assignee
			}
			if f.Changed("priority") {
				u.Priority = &priority
			}
			if f.Changed("complexity") {
				u.Complexity = &complexity
			}
			u.AddLabels = addLabels
			u.RemoveLabels = removeLabels
			if len(attrs) > 0 {
				extra, err := parseAttributes(attrs)
				if err != nil {
					return err
				}
				u.Extra = extra
			}
			if u.IsEmpty() {
				return errors.New("no updates specified")
			}

			item, err := a.store.UpdateItem(cmd.Context(), a.project(project), args[0], u)
			if err != nil {
				return fmt.Errorf("update %s: %w", args[0], err)
			}
			if a.jsonOutput() {
				return outputJSON(a.out, item)
			}
			a.okf("Updated %s", item.ID)
			return nil
		},
	}
	addProjectFlag(cmd, &project)
	f := cmd.Flags()
	f.StringVar(&title, "title", "", "New title")
	f.StringVarP(&description, "description", "d", "", "New description")
	f.StringVarP(&kind, "kind", "k", "", "New kind")
	f.StringVarP(&status, "status", "s", "", "New status (open, in_progress, blocked, closed)")
	f.StringVarP(&assignee, "assignee", "a", "", "New assignee (empty string clears)")
	f.IntVarP(&priority, "priority", "P", 0, "New priority")
	f.IntVar(&complexity, "complexity", 0, "New complexity 1-10")
	f.StringSliceVar(&addLabels, "add-label", nil, "Labels to add (repeatable)")
	f.StringSliceVar(&removeLabels, "remove-label", nil, "Labels to remove (repeatable)")
	f.StringArrayVar(&attrs, "set", nil, "Set a string attribute key=value (repeatable)")
	return cmd
}

func parseAttributes(pairs []string) (types.Attributes, error) {
	out := make(types.Attributes, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok {
			return nil, fmt.Errorf("invalid attribute %q (want key=value)", p)
		}
		if err := types.ValidateAttributeKey(k); err != nil {
			return nil, err
		}
		out[k] = types.String(v)
	}
	return out, nil
}
