// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the dialogue over HTTP and WebSocket for remote
// front-ends.
//
// The Hub is the single consumer of the event bus in serve mode. Every
// accepted event is fanned out to connected WebSocket clients as JSON.
// Clients send utterances and control messages back over the same socket.
//
// # Endpoints
//
//   - GET  /ws        - WebSocket event stream and utterance intake
//   - POST /utterance - dispatch one utterance, JSON {"text": "..."}
//   - POST /stop      - stop generation
//   - POST /clear     - reset the conversation
//   - POST /tts       - toggle speech
//   - POST /unload    - unload resident models
//   - GET  /models    - resident models
//   - GET  /health    - backend reachability
//   - GET  /stats     - counters
//
// # Wire Format
//
// Server to client:
//
//	{"type":"response","seq":3,"text":"Hello wor","at":"..."}
//
// Client to server:
//
//	{"type":"utterance","text":"Lock the front door"}
//	{"type":"stop"}
//
// # Security
//
// The listener defaults to loopback. Optional bearer token authentication
// accepts the Authorization header or a token query parameter, since
// browsers cannot set headers on WebSocket upgrades. Requests are rate
// limited per client address.
package server
