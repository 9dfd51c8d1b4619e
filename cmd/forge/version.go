package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version is the current version of forge (overridden by ldflags at build time)
	Version = "0.1.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: noStore,
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.jsonOutput() {
				return outputJSON(a.out, map[string]string{
					"version": Version,
					"build":   Build,
					"go":      runtime.Version(),
				})
			}
			fmt.Fprintf(a.out, "forge version %s (%s)\n", Version, Build)
			return nil
		},
	}
}
