package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor follows the NO_COLOR and CLICOLOR conventions, then
// falls back to whether stdout is a terminal.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if f := os.Getenv("CLICOLOR_FORCE"); f != "" && f != "0" {
		return true
	}
	return IsTerminal()
}

// ShouldUseEmoji is false when FORGE_NO_EMOJI is set or stdout is piped.
func ShouldUseEmoji() bool {
	if os.Getenv("FORGE_NO_EMOJI") != "" {
		return false
	}
	return IsTerminal()
}

// ColorProfile is the termenv profile output should be rendered with.
func ColorProfile() termenv.Profile {
	if !ShouldUseColor() {
		return termenv.Ascii
	}
	if os.Getenv("CLICOLOR_FORCE") != "" && !IsTerminal() {
		return termenv.ANSI256
	}
	return termenv.NewOutput(os.Stdout).EnvColorProfile()
}

// Init applies the color profile to every lipgloss style. Call once at startup.
func Init() {
	lipgloss.SetColorProfile(ColorProfile())
}
