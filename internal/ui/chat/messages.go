// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/murmur/internal/dialogue"
	"github.com/jeranaias/murmur/internal/events"
)

// =============================================================================
// MESSAGES
// =============================================================================

// EventMsg carries one bus event into the Update loop.
type EventMsg struct {
	Event events.Event
}

// BusClosedMsg reports that the bus will deliver nothing further.
type BusClosedMsg struct{}

// HandledMsg reports that an utterance was dispatched.
type HandledMsg struct {
	Outcome dialogue.Outcome
	Err     error
}

// actionDoneMsg reports that a background handler returned.
type actionDoneMsg struct{}

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// WaitForEvent reads the next event from the bus.
func WaitForEvent(ch <-chan events.Event, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-ch:
			return EventMsg{Event: e}
		case <-done:
			return BusClosedMsg{}
		}
	}
}

// HandleCmd dispatches an utterance off the Update goroutine.
func HandleCmd(ctl Controller, utterance string) tea.Cmd {
	return func() tea.Msg {
		out, err := ctl.Handle(context.Background(), utterance)
		return HandledMsg{Outcome: out, Err: err}
	}
}

// actionCmd runs a handler off the Update goroutine. Handlers such as Stop
// wait for the stream to publish its final event, which only drains while
// Update keeps running.
func actionCmd(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return actionDoneMsg{}
	}
}
