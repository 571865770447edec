// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config tunes boundary detection.
type Config struct {
	// Abbreviations are lowercase words (without the final period) that do
	// not end a sentence, such as "dr" or "e.g".
	Abbreviations []string
}

// DefaultConfig returns the default segmentation rules.
func DefaultConfig() Config {
	return Config{
		Abbreviations: []string{"mr", "mrs", "ms", "dr", "st", "jr", "sr", "vs", "e.g", "i.e"},
	}
}

// =============================================================================
// SEGMENTER
// =============================================================================

// Segmenter accumulates text fragments and emits complete sentences.
// A Segmenter is owned by a single stream and is not safe for concurrent use.
type Segmenter struct {
	pending       string
	abbreviations map[string]bool
}

// New creates a Segmenter with the default rules.
func New() *Segmenter {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a Segmenter with custom rules.
func NewWithConfig(cfg Config) *Segmenter {
	abbr := make(map[string]bool, len(cfg.Abbreviations))
	for _, a := range cfg.Abbreviations {
		abbr[strings.ToLower(strings.TrimSuffix(a, "."))] = true
	}
	return &Segmenter{abbreviations: abbr}
}

// Add appends a fragment and returns every sentence completed by it, in order.
// Each sentence includes its terminator and the whitespace that followed it.
// A terminator at the end of the buffer is held until the next fragment
// shows whitespace after it; Flush releases it at the end of the stream.
func (s *Segmenter) Add(fragment string) []string {
	if fragment == "" {
		return nil
	}
	s.pending += fragment

	var sentences []string
	for {
		end := s.nextBoundary()
		if end <= 0 {
			break
		}
		sentences = append(sentences, s.pending[:end])
		s.pending = s.pending[end:]
	}
	return sentences
}

// Flush returns the remaining text as a final sentence and clears the buffer.
// It reports false when the buffer is empty or whitespace only.
func (s *Segmenter) Flush() (string, bool) {
	rest := s.pending
	s.pending = ""
	if strings.TrimSpace(rest) == "" {
		return "", false
	}
	return rest, true
}

// Pending returns the text not yet emitted.
func (s *Segmenter) Pending() string {
	return s.pending
}

// Reset discards pending text.
func (s *Segmenter) Reset() {
	s.pending = ""
}

// =============================================================================
// BOUNDARY DETECTION
// =============================================================================

// nextBoundary returns the byte offset just past the first complete sentence
// in the pending buffer, or -1 if there is none yet.
func (s *Segmenter) nextBoundary() int {
	text := s.pending
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isTerminator(r) {
			i += size
			continue
		}

		// Consume runs like "?!", "..." and closing quotes.
		j := i + size
		single := true
		for j < len(text) {
			next, sz := utf8.DecodeRuneInString(text[j:])
			if !isTerminator(next) && !isCloser(next) {
				break
			}
			single = false
			j += sz
		}

		// Full-width terminators need no trailing space.
		if isWideTerminator(r) {
			return skipSpace(text, j)
		}

		if r == '.' && single && s.isAbbreviation(text[:i]) {
			i = j
			continue
		}

		// "example." may continue as "example.com", "Wait." as "Wait...".
		if j == len(text) {
			return -1
		}

		next, _ := utf8.DecodeRuneInString(text[j:])
		if !unicode.IsSpace(next) {
			i = j
			continue
		}
		return skipSpace(text, j)
	}
	return -1
}

// isAbbreviation reports whether the word ending at the end of prefix is a
// known abbreviation.
func (s *Segmenter) isAbbreviation(prefix string) bool {
	if len(s.abbreviations) == 0 {
		return false
	}
	start := len(prefix)
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(prefix[:start])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		start -= size
	}
	word := strings.ToLower(prefix[start:])
	return word != "" && s.abbreviations[word]
}

func skipSpace(text string, j int) int {
	for j < len(text) {
		r, size := utf8.DecodeRuneInString(text[j:])
		if !unicode.IsSpace(r) {
			break
		}
		j += size
	}
	return j
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return isWideTerminator(r)
}

func isWideTerminator(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '」':
		return true
	}
	return false
}
