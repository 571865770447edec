// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks conversation activity and releases models after
// an idle period.
//
// The Manager records user activity. Once no activity has been seen for
// the idle timeout it fires its idle callback exactly once, typically
// lifecycle.Manager.UnloadAll. New activity re-arms it.
//
// # Key Types
//
//   - Manager: activity tracker with idle callback
//   - TickMsg, IdleMsg: Bubble Tea messages for the TUI
//
// # Usage
//
//	mgr := session.NewManager(session.Config{IdleTimeout: 10 * time.Minute})
//	mgr.SetIdleCallback(models.UnloadAll)
//	go mgr.Run(ctx, time.Second)
//
//	// on every utterance
//	mgr.RecordActivity()
package session
