// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audio queues sentences for text-to-speech playback.
//
// A Queue owns one playback worker that speaks sentences strictly in FIFO
// order. QueueSentence never blocks. Toggle switches playback on and off;
// turning it off drops pending sentences and interrupts the current one.
//
// Speech synthesis itself is delegated to a Speaker. CommandSpeaker runs a
// platform command (say, espeak-ng, PowerShell) per sentence.
//
// # Key Types
//
//   - Queue: FIFO playback worker with QueueSentence and Toggle
//   - Speaker: speaks one sentence, honoring context cancellation
//   - CommandSpeaker: Speaker backed by an external command
package audio
