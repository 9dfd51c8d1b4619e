// Package ui provides terminal styling for forge CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/beadforge/forge/internal/types"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

// Semantic styles
var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	IDStyle     = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// CategoryStyle for section headers
var CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
)

const (
	TreeChild  = "⎿ "
	TreeLast   = "└─ "
	TreeIndent = "  "
)

const SeparatorLight = "──────────────────────────────────────────"

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderID(id string) string    { return IDStyle.Render(id) }

// RenderCategory renders a section header in uppercase.
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color.
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// RenderStatus colors an item status.
func RenderStatus(s types.Status) string {
	switch s {
	case types.StatusClosed:
		return PassStyle.Render(string(s))
	case types.StatusInProgress:
		return AccentStyle.Render(string(s))
	case types.StatusBlocked:
		return FailStyle.Render(string(s))
	default:
		return string(s)
	}
}

// RenderStatusIcon returns a one-character status marker.
func RenderStatusIcon(s types.Status) string {
	switch s {
	case types.StatusClosed:
		return PassStyle.Render(IconPass)
	case types.StatusInProgress:
		return AccentStyle.Render("◐")
	case types.StatusBlocked:
		return FailStyle.Render(IconFail)
	default:
		return MutedStyle.Render("○")
	}
}

// RenderPriority renders P0..Pn; P0 and P1 are highlighted.
func RenderPriority(p int) string {
	label := "P" + strconv.Itoa(p)
	switch {
	case p == 0:
		return FailStyle.Bold(true).Render(label)
	case p == 1:
		return WarnStyle.Render(label)
	default:
		return label
	}
}
