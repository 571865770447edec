// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lifecycle tracks which models are resident in the backend and
// issues best-effort preload and unload requests.
//
// Every request runs on its own goroutine. Failures are logged as
// LifecycleError and never reach the caller; the dialogue path never waits
// on this package.
//
// # Key Types
//
//   - Manager: mutex-guarded residency table plus background requests
//   - ModelRecord: name, residency and last use of one model
//   - Backend: the subset of the Ollama client the manager needs
//
// # Usage
//
//	mgr := lifecycle.New(client, lifecycle.DefaultConfig())
//	mgr.EnsureLoaded("qwen3:4b") // returns immediately
//	mgr.UnloadAll()              // on leaving the chat surface
package lifecycle
