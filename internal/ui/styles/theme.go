// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// Theme holds the lipgloss styles for one terminal.
type Theme struct {
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	FunctionLabel  lipgloss.Style
	Body           lipgloss.Style
	Thought        lipgloss.Style
	Cancelled      lipgloss.Style
	Error          lipgloss.Style
	StatusBar      lipgloss.Style
	Prompt         lipgloss.Style
	Hint           lipgloss.Style
	Separator      lipgloss.Style
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	profile := termenv.ColorProfile()
	return NewThemeForProfile(profile, termenv.HasDarkBackground())
}

// NewThemeForProfile creates a theme for an explicit color profile.
func NewThemeForProfile(profile termenv.Profile, dark bool) *Theme {
	t := &Theme{
		IsDark:       dark,
		HasTrueColor: profile == termenv.TrueColor,
		ColorProfile: profile,
	}
	t.initStyles()
	return t
}

// NoColor reports whether the terminal renders no color at all.
func (t *Theme) NoColor() bool {
	return t.ColorProfile == termenv.Ascii
}

func (t *Theme) initStyles() {
	t.UserLabel = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.AssistantLabel = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.FunctionLabel = lipgloss.NewStyle().Bold(true).Foreground(Emerald)
	t.Body = lipgloss.NewStyle().Foreground(TextPrimary)
	t.Thought = lipgloss.NewStyle().Italic(true).Foreground(TextMuted)
	t.Cancelled = lipgloss.NewStyle().Italic(true).Foreground(Amber)
	t.Error = lipgloss.NewStyle().Foreground(Rose)
	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)
	t.Prompt = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.Hint = lipgloss.NewStyle().Foreground(TextMuted)
	t.Separator = lipgloss.NewStyle().Foreground(Overlay)
}

// =============================================================================
// WIDTH HELPERS
// =============================================================================

// Truncate shortens s to at most width terminal cells, ending in an ellipsis.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, Ellipsis)
}

// Tail keeps the last width cells of the final line of s, prefixed with an
// ellipsis when anything was cut. It is used for the live thought line.
func Tail(s string, width int) string {
	if width <= 0 {
		return ""
	}
	s = strings.TrimRight(s, "\n")
	cut := false
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
		cut = true
	}
	if runewidth.StringWidth(s) <= width && !cut {
		return s
	}
	if runewidth.StringWidth(s)+runewidth.StringWidth(Ellipsis) <= width {
		return Ellipsis + s
	}

	runes := []rune(s)
	w := runewidth.StringWidth(Ellipsis)
	start := len(runes)
	for start > 0 {
		rw := runewidth.RuneWidth(runes[start-1])
		if w+rw > width {
			break
		}
		w += rw
		start--
	}
	return Ellipsis + string(runes[start:])
}

// Rule draws a horizontal separator width cells wide.
func (t *Theme) Rule(width int) string {
	if width <= 0 {
		return ""
	}
	return t.Separator.Render(strings.Repeat("─", width))
}
