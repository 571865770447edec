// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import "fmt"

// ============================================================================
// DECISION
// ============================================================================

// Kind is the kind of routing decision.
type Kind int

const (
	// KindPassthrough means the utterance is open-ended chat.
	KindPassthrough Kind = iota
	// KindCall means the utterance maps to a function call.
	KindCall
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPassthrough:
		return "passthrough"
	case KindCall:
		return "call"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Decision is the result of classifying one utterance.
type Decision struct {
	Kind Kind

	// Thinking enables the reasoning channel. Passthrough only.
	Thinking bool

	// Name and Arguments describe the call. Call only.
	Name      string
	Arguments map[string]any

	// Reason is a short note on how the decision was reached.
	Reason string
}

// Passthrough returns a chat decision.
func Passthrough(thinking bool, reason string) Decision {
	return Decision{Kind: KindPassthrough, Thinking: thinking, Reason: reason}
}

// Call returns a function-call decision.
func Call(name string, args map[string]any) Decision {
	if args == nil {
		args = map[string]any{}
	}
	return Decision{Kind: KindCall, Name: name, Arguments: args, Reason: "classifier"}
}

// IsCall reports whether the decision is a function call.
func (d Decision) IsCall() bool {
	return d.Kind == KindCall
}

func (d Decision) String() string {
	if d.Kind == KindCall {
		return fmt.Sprintf("call(%s %v)", d.Name, d.Arguments)
	}
	return fmt.Sprintf("passthrough(thinking=%t, %s)", d.Thinking, d.Reason)
}

// ============================================================================
// ERRORS
// ============================================================================

// ClassificationError describes a failed classification attempt. It is
// logged and never returned from Classify.
type ClassificationError struct {
	Op    string
	Cause error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification %s: %v", e.Op, e.Cause)
}

func (e *ClassificationError) Unwrap() error {
	return e.Cause
}
