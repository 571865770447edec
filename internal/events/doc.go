// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events carries typed UI events from background workers to the
// single UI consumer.
//
// Producers call Publish from any goroutine. Exactly one consumer drains
// the bus in publication order, usually through Run, which also drops
// events from superseded stream sessions.
//
// # Sequence Numbers
//
// Every event produced by a stream session carries that session's
// sequence number. Once the consumer has seen an event from session N,
// events from sessions below N are stale and dropped. Seq 0 marks events
// that belong to no session, such as function results.
package events
