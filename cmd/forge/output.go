package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/beadforge/forge/internal/ui"
)

// FatalError writes an error message to stderr and exits with code 1.
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

// warnf prints a non-fatal warning to stderr.
func (a *app) warnf(format string, args ...interface{}) {
	fmt.Fprintf(a.errOut, "%s "+format+"\n", append([]interface{}{ui.RenderWarn("warning:")}, args...)...)
}

func (a *app) okf(format string, args ...interface{}) {
	fmt.Fprintf(a.out, "%s "+format+"\n", append([]interface{}{ui.RenderPass(ui.IconPass)}, args...)...)
}
