// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/jeranaias/murmur/internal/functions"
)

// ============================================================================
// CONTROL TOKENS
// ============================================================================

const (
	tokEscape        = "<escape>"
	tokDeclStart     = "<start_function_declaration>"
	tokDeclEnd       = "<end_function_declaration>"
	tokTurnStart     = "<start_of_turn>"
	tokTurnEnd       = "<end_of_turn>"
	tokCallEnd       = "<end_function_call>"
	tokResponseStart = "<start_function_response>"

	callMarker = "call:"
)

// StopSequences end classification output after the first call.
var StopSequences = []string{tokTurnEnd, tokResponseStart}

// ============================================================================
// PROMPT
// ============================================================================

// Declaration renders one function for the classifier prompt.
func Declaration(def *functions.Definition) string {
	var b strings.Builder
	b.WriteString(tokDeclStart)
	fmt.Fprintf(&b, "declaration:%s{description:%s,parameters:{properties:{", def.Name, escaped(def.Description))
	for i, p := range def.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s:{description:%s,type:%s}", p.Name, escaped(p.Description), escaped(p.Type))
	}
	b.WriteString("},required:[")
	for i, name := range def.Required() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escaped(name))
	}
	fmt.Fprintf(&b, "],type:%s}}", escaped("OBJECT"))
	b.WriteString(tokDeclEnd)
	return b.String()
}

// BuildPrompt renders the raw classification prompt for an utterance.
func BuildPrompt(defs []*functions.Definition, utterance string) string {
	var decls strings.Builder
	for _, d := range defs {
		decls.WriteString(Declaration(d))
	}
	return tokTurnStart + "developer You are a model that can do function calling with the following functions" +
		decls.String() + tokTurnEnd + "\n" +
		tokTurnStart + "user " + strings.TrimSpace(utterance) + tokTurnEnd + "\n" +
		tokTurnStart + "model"
}

func escaped(s string) string {
	return tokEscape + s + tokEscape
}

// ============================================================================
// CALL PARSING
// ============================================================================

var callName = regexp.MustCompile(`^call:(\w+)`)

// ParseCall extracts the first function call from classifier output.
// ok is false when the output contains no call marker. A marker with an
// unreadable argument body returns an error.
func ParseCall(output string) (name string, args map[string]any, ok bool, err error) {
	idx := strings.Index(output, callMarker)
	if idx < 0 {
		return "", nil, false, nil
	}
	rest := output[idx:]
	m := callName.FindStringSubmatch(rest)
	if m == nil {
		return "", nil, false, nil
	}
	name = m[1]
	rest = rest[len(m[0]):]
	if end := strings.Index(rest, tokCallEnd); end >= 0 {
		rest = rest[:end]
	}

	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, "{") {
		return name, map[string]any{}, true, nil
	}

	args, err = parseArguments(rest)
	if err != nil {
		return name, nil, true, err
	}
	return name, args, true, nil
}

// parseArguments converts a call body such as
// {door:<escape>front<escape>,count:2} to JSON, repairs truncation and
// decodes it.
func parseArguments(body string) (map[string]any, error) {
	raw := toJSON(body)
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("repair arguments: %w", err)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// toJSON quotes bare keys and words and turns escape-delimited strings
// into JSON strings. Numbers, punctuation and true/false/null pass through.
func toJSON(body string) string {
	var b strings.Builder
	for i := 0; i < len(body); {
		if strings.HasPrefix(body[i:], tokEscape) {
			start := i + len(tokEscape)
			end := strings.Index(body[start:], tokEscape)
			var s string
			if end < 0 {
				s, i = body[start:], len(body)
			} else {
				s, i = body[start:start+end], start+end+len(tokEscape)
			}
			q, _ := json.Marshal(s)
			b.Write(q)
			continue
		}

		c := body[i]
		if isIdentStart(c) {
			j := i + 1
			for j < len(body) && isIdent(body[j]) {
				j++
			}
			word := body[i:j]
			switch word {
			case "true", "false", "null":
				b.WriteString(word)
			default:
				q, _ := json.Marshal(word)
				b.Write(q)
			}
			i = j
			continue
		}

		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
