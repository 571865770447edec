// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/dialogue"
	"github.com/jeranaias/murmur/internal/events"
	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/session"
	"github.com/jeranaias/murmur/internal/ui/styles"
)

// Controller is the dialogue surface driven by the view.
type Controller interface {
	Handle(ctx context.Context, utterance string) (dialogue.Outcome, error)
	Stop()
	Clear()
	ToggleTTS() bool
	TTSEnabled() bool
	SwitchContext()
}

// Config holds optional view settings.
type Config struct {
	// Model is the chat model name shown in the status bar
	Model string

	// Session drives the idle-unload ticker when set
	Session *session.Manager

	// Theme defaults to styles.NewTheme()
	Theme *styles.Theme
}

// =============================================================================
// TRANSCRIPT ENTRIES
// =============================================================================

type role int

const (
	roleUser role = iota
	roleAssistant
	roleFunction
	roleError
)

type entry struct {
	role      role
	text      string
	thought   string
	rendered  string
	cancelled bool
	failed    bool
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctl     Controller
	bus     *events.Bus
	filter  events.Filter
	idle    *session.Manager
	theme   *styles.Theme
	keys    KeyMap
	model   string
	entries []entry

	// live is the index of the streaming entry, or -1
	live    int
	liveSeq uint64
	pending int
	status  string

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width, height int
	ready         bool
	quitting      bool

	logger zerolog.Logger
}

// New creates the chat model. The model must be the only reader of bus.
func New(ctl Controller, bus *events.Bus, cfg Config) Model {
	theme := cfg.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}

	ti := textinput.New()
	ti.Placeholder = "Say something, or /help"
	ti.Prompt = "> "
	ti.PromptStyle = theme.Prompt
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Hint))

	return Model{
		ctl:     ctl,
		bus:     bus,
		idle:    cfg.Session,
		theme:   theme,
		keys:    DefaultKeyMap(),
		model:   cfg.Model,
		live:    -1,
		input:   ti,
		spinner: sp,
		logger:  logging.For("ui"),
	}
}

// Init starts the bus reader, the spinner and the idle ticker.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		textinput.Blink,
		m.spinner.Tick,
		WaitForEvent(m.bus.Events(), m.bus.Done()),
	}
	if m.idle != nil {
		cmds = append(cmds, session.TickCmd())
	}
	return tea.Batch(cmds...)
}

// Streaming reports whether a stream session is being displayed live.
func (m Model) Streaming() bool {
	return m.live >= 0
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		if m.filter.Accept(msg.Event) {
			m.apply(msg.Event)
			m.refresh()
		}
		return m, WaitForEvent(m.bus.Events(), m.bus.Done())

	case BusClosedMsg:
		return m, nil

	case HandledMsg:
		if m.pending > 0 {
			m.pending--
		}
		if msg.Err != nil && !errors.Is(msg.Err, dialogue.ErrEmptyUtterance) {
			m.status = "Error: " + msg.Err.Error()
		}
		return m, nil

	case actionDoneMsg:
		return m, nil

	case session.TickMsg:
		if m.idle == nil {
			return m, nil
		}
		return m, m.idle.HandleTick()

	case session.IdleMsg:
		m.status = "Models unloaded after inactivity."
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Stop):
		return m, actionCmd(m.ctl.Stop)

	case key.Matches(msg, m.keys.Clear):
		m.entries = nil
		m.live = -1
		m.refresh()
		return m, actionCmd(m.ctl.Clear)

	case key.Matches(msg, m.keys.ToggleTTS):
		return m, actionCmd(func() { m.ctl.ToggleTTS() })

	case key.Matches(msg, m.keys.SwitchContext):
		return m, actionCmd(m.ctl.SwitchContext)

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit dispatches the input line or runs a slash command.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" {
		return m, nil
	}

	switch strings.ToLower(text) {
	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	case "/stop":
		return m, actionCmd(m.ctl.Stop)
	case "/clear":
		m.entries = nil
		m.live = -1
		m.refresh()
		return m, actionCmd(m.ctl.Clear)
	case "/tts":
		return m, actionCmd(func() { m.ctl.ToggleTTS() })
	case "/unload":
		return m, actionCmd(m.ctl.SwitchContext)
	case "/help":
		m.status = "/stop /clear /tts /unload /quit, or add /think for reasoning"
		return m, nil
	}

	m.entries = append(m.entries, entry{role: roleUser, text: text})
	m.pending++
	m.status = ""
	m.refresh()
	return m, HandleCmd(m.ctl, text)
}

// apply folds an accepted event into the transcript.
func (m *Model) apply(e events.Event) {
	switch e.Kind {
	case events.KindStart:
		m.entries = append(m.entries, entry{role: roleAssistant})
		m.live = len(m.entries) - 1
		m.liveSeq = e.Seq

	case events.KindThought:
		if cur := m.current(e.Seq); cur != nil {
			cur.thought = e.Text
		}

	case events.KindResponse:
		if cur := m.current(e.Seq); cur != nil {
			cur.text = e.Text
		}

	case events.KindDone:
		if cur := m.current(e.Seq); cur != nil {
			cur.text = e.Text
			cur.rendered = m.markdown(e.Text)
			m.live = -1
		}

	case events.KindCancelled:
		if cur := m.current(e.Seq); cur != nil {
			cur.text = e.Text
			cur.cancelled = true
			m.live = -1
		}

	case events.KindError:
		if e.Seq == 0 {
			m.entries = append(m.entries, entry{role: roleError, text: e.Text})
			return
		}
		if cur := m.current(e.Seq); cur != nil {
			cur.text = e.Text
			cur.failed = true
			m.live = -1
		}
		if e.Err != nil {
			m.status = "Error: " + e.Err.Error()
		}

	case events.KindMessage:
		m.entries = append(m.entries, entry{role: roleFunction, text: e.Text, rendered: m.markdown(e.Text)})

	case events.KindStatus:
		m.status = e.Text
	}
}

// current returns the live entry if it belongs to session seq.
func (m *Model) current(seq uint64) *entry {
	if m.live < 0 || m.liveSeq != seq {
		return nil
	}
	return &m.entries[m.live]
}

// =============================================================================
// LAYOUT
// =============================================================================

// chromeHeight is the rule, live line, input and status bar.
const chromeHeight = 4

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	vpHeight := height - chromeHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.input.Width = width - 4

	style := "dark"
	switch {
	case m.theme.NoColor():
		style = "notty"
	case !m.theme.IsDark:
		style = "light"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		m.logger.Warn().Err(err).Msg("markdown renderer unavailable")
		r = nil
	}
	m.renderer = r

	for i := range m.entries {
		if m.entries[i].rendered != "" {
			m.entries[i].rendered = m.markdown(m.entries[i].text)
		}
	}
	m.refresh()
}

// markdown renders completed text, falling back to plain text.
func (m *Model) markdown(text string) string {
	if m.renderer == nil || strings.TrimSpace(text) == "" {
		return ""
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return ""
	}
	return strings.Trim(out, "\n")
}

// refresh re-renders the transcript, following the tail when the user has
// not scrolled up.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom() || m.live >= 0
	m.viewport.SetContent(m.transcript())
	if follow {
		m.viewport.GotoBottom()
	}
}
