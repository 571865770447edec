// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router decides whether an utterance is open-ended chat or a call
// to one of the known functions.
//
// Decisions are made in order:
//
//  1. An utterance containing "/think" is chat with reasoning enabled.
//  2. Obviously conversational input (greetings, thanks, short questions
//     without an action word) is chat without asking the backend.
//  3. Everything else goes to a small function-calling model with a
//     control-token prompt listing every function. A "call:" marker naming
//     a known function becomes a Call decision.
//
// # Fail Open
//
// Any backend or parse failure is logged as a ClassificationError and the
// decision falls back to Passthrough with thinking disabled. Classify never
// returns an error, so a broken classifier degrades into plain chat and
// never into an unintended action.
//
// # Usage
//
//	r := router.New(client, router.DefaultConfig())
//	d := r.Classify(ctx, "Lock the front door")
//	if d.Kind == router.KindCall {
//	    result, err := executor.Execute(ctx, d.Name, d.Arguments)
//	}
package router
