// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for murmur.
//
// Settings come from a TOML file, optional .env files and MURMUR_*
// environment variables, with validation and hot reload.
//
// # Key Types
//
//   - Config: main configuration structure
//   - SpeechConfig: text-to-speech command settings
//   - TimeoutConfig: per-request deadlines
//   - ValidationError, ValidateErrors: aggregated validation failures
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (MURMUR_*), including those from .env files
//   - ~/.murmur/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	path, _ := config.ConfigPath()
//	cfg, err := config.LoadFromPath(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Reload on edit:
//
//	go config.Watch(ctx, path, func(cfg *config.Config) {
//	    orchestrator.SetTTS(cfg.TTSEnabled)
//	})
package config
