// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dialogue is the dispatch path for user utterances.
//
// An Orchestrator classifies each utterance, appends the user turn and
// then either executes the named function, publishing its result as one
// message event and one spoken sentence, or starts a chat stream through
// the coordinator. Dispatches are serialized, so history is never
// mutated by two turns at once.
//
// It also carries the conversation-level handlers: stop generation,
// clear chat, toggle speech and context switch.
package dialogue
