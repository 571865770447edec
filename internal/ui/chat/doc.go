// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the full-screen conversation view.
//
// The Model is the single consumer of the event bus. Each event arrives as
// an EventMsg, passes the stale-session filter and updates the transcript.
// Utterances are dispatched from tea.Cmd goroutines so the Update loop keeps
// draining the bus while a request is in flight.
//
// # Key Types
//
//   - Model: Bubble Tea model for the chat screen
//   - Controller: the dialogue surface the view drives
//   - KeyMap: keyboard bindings
//
// # Usage
//
//	m := chat.New(orchestrator, bus, chat.Config{Model: cfg.Model})
//	p := tea.NewProgram(m, tea.WithAltScreen())
//	_, err := p.Run()
package chat
