// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared across murmur.
//
//   - AtomicWriteFile, AtomicWriteFileWithDir: crash-safe file writes for
//     the config file and the repl history
//   - TruncateRunes: UTF-8 safe shortening for log fields
package util
