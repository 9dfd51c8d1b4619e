package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// PagerOptions controls pager behavior.
type PagerOptions struct {
	// NoPager disables the pager (--no-pager).
	NoPager bool
	// Command overrides FORGE_PAGER and PAGER.
	Command string
}

func (o PagerOptions) command() string {
	for _, c := range []string{o.Command, os.Getenv("FORGE_PAGER"), os.Getenv("PAGER")} {
		if c != "" {
			return c
		}
	}
	return "less"
}

func (o PagerOptions) enabled() bool {
	return !o.NoPager && os.Getenv("FORGE_NO_PAGER") == "" && IsTerminal()
}

func terminalHeight() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	_, h, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return h
}

// ToPager pipes long content through a pager when stdout is a terminal.
// Otherwise, or when the content fits on screen, it is written to w.
func ToPager(w io.Writer, content string, opts PagerOptions) error {
	if !opts.enabled() {
		_, err := io.WriteString(w, content)
		return err
	}
	if h := terminalHeight(); h > 0 && strings.Count(content, "\n") < h-1 {
		_, err := io.WriteString(w, content)
		return err
	}

	parts := strings.Fields(opts.command())
	cmd := exec.Command(parts[0], parts[1:]...) // #nosec G204 -- pager is user configuration
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if os.Getenv("LESS") == "" {
		// Keep colors, quit if one screen, don't clear on exit.
		cmd.Env = append(cmd.Env, "LESS=-RFX")
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pager %s: %w", parts[0], err)
	}
	return nil
}
