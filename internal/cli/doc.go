// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the murmur command tree.
//
// # Commands
//
//   - chat: full-screen conversation (default). Falls back to repl when
//     stdout is not a terminal.
//   - repl: line-mode conversation with persistent input history
//   - serve: HTTP and WebSocket front-end for remote UIs
//   - classify: print the routing decision for one utterance
//   - models: list resident models, or unload them with --unload
//   - config: show, get, set and locate configuration
//   - version: print build information
//
// # Wiring
//
// NewApp assembles the dialogue stack from a config.Config: the Ollama
// client, the model lifecycle manager, SQLite-backed action services, the
// router, the stream coordinator, the audio queue and the orchestrator.
// Every front-end consumes the same event bus, and exactly one consumer
// reads it per process.
package cli
