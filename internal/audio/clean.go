// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audio

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	mdCodeBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")
	mdBold      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic    = regexp.MustCompile(`\*(.+?)\*`)
	mdUnder     = regexp.MustCompile(`__(.+?)__`)
	mdCode      = regexp.MustCompile("`([^`]+)`")
	mdHeading   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdBullet    = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	mdRule      = regexp.MustCompile(`(?m)^---+$`)
	mdLink      = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)

	// unspeakable removes everything but letters, digits, whitespace and
	// basic punctuation.
	unspeakable = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?-]`)
)

// StripMarkdown removes markdown formatting, keeping the text.
func StripMarkdown(text string) string {
	text = mdCodeBlock.ReplaceAllString(text, "$1")
	text = mdBold.ReplaceAllString(text, "$1")
	text = mdUnder.ReplaceAllString(text, "$1")
	text = mdItalic.ReplaceAllString(text, "$1")
	text = mdCode.ReplaceAllString(text, "$1")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdBullet.ReplaceAllString(text, "")
	text = mdRule.ReplaceAllString(text, "")
	text = mdLink.ReplaceAllString(text, "$1")
	return text
}

// CleanForSpeech prepares text for a speech engine: NFKC normalization,
// markdown removal, removal of symbols and emoji, and whitespace collapse.
func CleanForSpeech(text string) string {
	text = norm.NFKC.String(text)
	text = StripMarkdown(text)
	text = unspeakable.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
