// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream drives the single active chat generation of a
// conversation.
//
// A Coordinator owns at most one Session at a time. Starting a new
// session cancels the previous one and waits for its read loop to exit,
// so nothing from the old session reaches the sinks after the new one
// has started.
//
// For every delta the coordinator publishes the full thought and response
// buffers to the UI sink and feeds content to a per-session sentence
// segmenter whose complete sentences go to the audio sink.
//
// # States
//
//	Idle -> Streaming -> Completed | Cancelled | Failed -> Idle
//
// Completed appends the response to history and publishes done. Failed
// publishes an error carrying the partial response and keeps a non-empty
// partial response in history. Cancelled keeps what was already published
// but writes nothing to history.
package stream
