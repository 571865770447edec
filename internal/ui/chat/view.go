// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/murmur/internal/session"
	"github.com/jeranaias/murmur/internal/ui/styles"
)

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Starting..."
	}

	var b strings.Builder
	b.WriteString(m.viewport.View())
	b.WriteByte('\n')
	b.WriteString(m.theme.Rule(m.width))
	b.WriteByte('\n')
	b.WriteString(m.liveLine())
	b.WriteByte('\n')
	b.WriteString(m.input.View())
	b.WriteByte('\n')
	b.WriteString(m.statusBar())
	return b.String()
}

// transcript renders every entry.
func (m Model) transcript() string {
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 10))
	blocks := make([]string, 0, len(m.entries))

	for _, e := range m.entries {
		var b strings.Builder
		switch e.role {
		case roleUser:
			b.WriteString(m.theme.UserLabel.Render("You"))
			b.WriteByte('\n')
			b.WriteString(wrap.Render(m.theme.Body.Render(e.text)))

		case roleAssistant:
			b.WriteString(m.theme.AssistantLabel.Render("Assistant"))
			if e.thought != "" {
				b.WriteByte('\n')
				b.WriteString(wrap.Render(m.theme.Thought.Render(strings.TrimSpace(e.thought))))
			}
			if e.rendered != "" {
				b.WriteByte('\n')
				b.WriteString(e.rendered)
			} else if e.text != "" {
				b.WriteByte('\n')
				b.WriteString(wrap.Render(m.theme.Body.Render(e.text)))
			}
			if e.cancelled {
				b.WriteByte('\n')
				b.WriteString(m.theme.Cancelled.Render("[stopped]"))
			}
			if e.failed {
				b.WriteByte('\n')
				b.WriteString(m.theme.Error.Render("[connection lost]"))
			}

		case roleFunction:
			b.WriteString(m.theme.FunctionLabel.Render("Action"))
			b.WriteByte('\n')
			if e.rendered != "" {
				b.WriteString(e.rendered)
			} else {
				b.WriteString(wrap.Render(m.theme.Body.Render(e.text)))
			}

		case roleError:
			b.WriteString(m.theme.Error.Render("Action failed"))
			b.WriteByte('\n')
			b.WriteString(wrap.Render(m.theme.Error.Render(e.text)))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// liveLine shows the spinner and the tail of the current thought.
func (m Model) liveLine() string {
	busy := m.pending > 0 || m.live >= 0
	if !busy {
		return ""
	}
	line := m.spinner.View() + " "
	switch {
	case m.live >= 0 && m.entries[m.live].text == "" && m.entries[m.live].thought != "":
		line += m.theme.Thought.Render(styles.Tail(m.entries[m.live].thought, m.width-4))
	case m.live >= 0:
		line += m.theme.Hint.Render("responding...")
	default:
		line += m.theme.Hint.Render("routing...")
	}
	return line
}

// statusBar shows the model, speech state, idle countdown and status text.
func (m Model) statusBar() string {
	parts := []string{}
	if m.model != "" {
		parts = append(parts, m.model)
	}
	if m.ctl.TTSEnabled() {
		parts = append(parts, "speech on")
	} else {
		parts = append(parts, "speech off")
	}
	if m.idle != nil {
		st := m.idle.GetStatus()
		if !st.Idle && st.RemainingTime > 0 {
			parts = append(parts, "unload in "+session.FormatDuration(st.RemainingTime))
		}
	}
	if m.status != "" {
		parts = append(parts, m.status)
	} else {
		parts = append(parts, m.keys.ShortHelp())
	}
	return m.theme.StatusBar.Render(styles.Truncate(strings.Join(parts, " · "), max(m.width-2, 1)))
}
