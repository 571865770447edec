// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide zerolog logger.
//
// # Usage
//
//	logging.Init(logging.Options{Level: "debug", Pretty: true})
//	log := logging.For("stream")
//	log.Info().Int("seq", 3).Msg("stream started")
package logging
