// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"
	"unicode"
)

// ============================================================================
// BYPASS PREDICATE
// ============================================================================

// DefaultBypassPhrases are conversational openers that never need the
// classifier.
var DefaultBypassPhrases = []string{
	"hi", "hello", "hey", "yo", "hiya",
	"thanks", "thank you", "thx", "cheers",
	"bye", "goodbye", "see you", "good night",
	"good morning", "good afternoon", "good evening",
	"how are you", "who are you", "what's up", "whats up",
	"ok", "okay", "cool", "nice", "great", "yes", "no",
}

// actionWords mark an utterance as a possible function call.
var actionWords = map[string]bool{
	"turn": true, "switch": true, "set": true, "dim": true, "light": true, "lights": true,
	"play": true, "music": true, "song": true, "pause": true,
	"lock": true, "unlock": true, "door": true,
	"alarm": true, "wake": true, "remind": true, "reminder": true,
	"send": true, "text": true, "message": true, "tell": true,
	"weather": true, "forecast": true, "temperature": true, "thermostat": true,
	"tv": true, "channel": true, "volume": true, "mute": true,
	"order": true, "food": true, "pizza": true,
}

// thinkFlag in an utterance enables the reasoning channel.
const thinkFlag = "/think"

// HasThinkFlag reports whether the utterance asks for reasoning.
func HasThinkFlag(utterance string) bool {
	return strings.Contains(strings.ToLower(utterance), thinkFlag)
}

// StripThinkFlag removes the reasoning flag from an utterance.
func StripThinkFlag(utterance string) string {
	lower := strings.ToLower(utterance)
	for {
		i := strings.Index(lower, thinkFlag)
		if i < 0 {
			break
		}
		utterance = utterance[:i] + utterance[i+len(thinkFlag):]
		lower = lower[:i] + lower[i+len(thinkFlag):]
	}
	return strings.Join(strings.Fields(utterance), " ")
}

// Bypass decides whether an utterance is obviously conversational.
type Bypass struct {
	phrases  []string
	maxWords int
}

// NewBypass creates a predicate over the given phrases. A nil list uses
// DefaultBypassPhrases.
func NewBypass(phrases []string, maxWords int) *Bypass {
	if phrases == nil {
		phrases = DefaultBypassPhrases
	}
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = normalize(p); p != "" {
			norm = append(norm, p)
		}
	}
	return &Bypass{phrases: norm, maxWords: maxWords}
}

// Match reports whether the utterance should skip classification: it has
// no action word and either starts with a bypass phrase or is at most
// maxWords long.
func (b *Bypass) Match(utterance string) bool {
	text := normalize(utterance)
	if text == "" {
		return true
	}
	words := strings.Fields(text)
	for _, w := range words {
		if actionWords[w] {
			return false
		}
	}
	if len(words) <= b.maxWords {
		return true
	}
	for _, p := range b.phrases {
		if text == p || strings.HasPrefix(text, p+" ") {
			return true
		}
	}
	return false
}

// normalize lowercases and strips punctuation other than apostrophes.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '\'' {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
