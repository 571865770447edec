// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/murmur/internal/ollama"
)

// MinHistory is the smallest usable bound: the system turn plus one more.
const MinHistory = 2

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation. Turns are values and are never
// modified after being appended.
type Turn struct {
	Role    Role
	Content string
}

// =============================================================================
// HISTORY
// =============================================================================

// History is the ordered turn log of one conversation.
// It is safe for concurrent use.
type History struct {
	mu    sync.Mutex
	id    string
	turns []Turn
	max   int
}

// New creates a history holding only the system turn.
// maxHistory below MinHistory is raised to MinHistory.
func New(systemPrompt string, maxHistory int) *History {
	if maxHistory < MinHistory {
		maxHistory = MinHistory
	}
	return &History{
		id:    uuid.NewString(),
		turns: []Turn{{Role: RoleSystem, Content: systemPrompt}},
		max:   maxHistory,
	}
}

// ID returns the conversation id. It changes on Reset.
func (h *History) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

// Append adds a turn and trims the log. System turns are rejected; the only
// system turn is the leading one.
func (h *History) Append(turn Turn) {
	if turn.Role == RoleSystem {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
	h.trimLocked()
}

// AppendUser adds a user turn.
func (h *History) AppendUser(content string) {
	h.Append(Turn{Role: RoleUser, Content: content})
}

// AppendAssistant adds an assistant turn.
func (h *History) AppendAssistant(content string) {
	h.Append(Turn{Role: RoleAssistant, Content: content})
}

// Trim enforces the bound. Append already trims; Trim is for bound changes.
func (h *History) Trim() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trimLocked()
}

// trimLocked keeps the system turn plus the most recent max-1 turns.
func (h *History) trimLocked() {
	if len(h.turns) <= h.max {
		return
	}
	keep := h.max - 1
	trimmed := make([]Turn, 0, h.max)
	trimmed = append(trimmed, h.turns[0])
	trimmed = append(trimmed, h.turns[len(h.turns)-keep:]...)
	h.turns = trimmed
}

// SetMaxHistory changes the bound and trims immediately.
func (h *History) SetMaxHistory(n int) {
	if n < MinHistory {
		n = MinHistory
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.max = n
	h.trimLocked()
}

// MaxHistory returns the current bound.
func (h *History) MaxHistory() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.max
}

// SetSystemPrompt replaces the leading system turn.
func (h *History) SetSystemPrompt(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns[0] = Turn{Role: RoleSystem, Content: prompt}
}

// Reset drops everything except the system turn and starts a new conversation id.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = h.turns[:1:1]
	h.id = uuid.NewString()
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Turns returns a copy of the log in conversational order.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns including the system turn.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Last returns the most recent turn.
func (h *History) Last() Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turns[len(h.turns)-1]
}

// Messages converts the log into chat request messages, preserving order.
func (h *History) Messages() []ollama.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := make([]ollama.Message, 0, len(h.turns))
	for _, t := range h.turns {
		msgs = append(msgs, ollama.Message{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}
