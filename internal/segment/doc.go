// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package segment splits streamed text into complete sentences for speech.
//
// A Segmenter accumulates fragments as they arrive from the model and
// releases each sentence once whitespace confirms its terminator, so the
// speech queue never receives half a sentence. A terminator that ends a
// fragment waits for the next one: "example." may still become
// "example.com".
//
// # Key Types
//
//   - Segmenter: stateful accumulator with Add and Flush
//   - Config: abbreviation list
//
// # Usage
//
//	seg := segment.New()
//	for _, s := range seg.Add("Hello world. How are") {
//	    speak(s) // "Hello world. "
//	}
//	if last, ok := seg.Flush(); ok {
//	    speak(last)
//	}
//
// Concatenating everything returned by Add and Flush reproduces the input.
// The only exception is a whitespace-only tail, which Flush discards.
package segment
