// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history holds the bounded conversation log replayed to the model.
//
// A History always starts with exactly one system turn. Every append trims
// the log so it never holds more than MaxHistory turns: the system turn is
// kept and the oldest other turns are dropped first.
//
// # Key Types
//
//   - Turn: immutable role/content pair
//   - History: mutex-guarded ordered turn log
//
// # Usage
//
//	h := history.New(systemPrompt, 20)
//	h.AppendUser("What time is it?")
//	msgs := h.Messages() // []ollama.Message for the chat request
package history
