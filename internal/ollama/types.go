// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"fmt"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role     string `json:"role"`               // "system", "user", "assistant"
	Content  string `json:"content"`            // The message content
	Thinking string `json:"thinking,omitempty"` // Reasoning trace, never replayed
}

// ChatRequest is the request body for the /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Think    bool      `json:"think"`
	Options  *Options  `json:"options,omitempty"`
}

// GenerateRequest is the request body for the /api/generate endpoint.
// It is used for raw classification prompts, preloading and unloading.
type GenerateRequest struct {
	Model     string   `json:"model"`
	Prompt    string   `json:"prompt"`
	Stream    bool     `json:"stream"`
	Raw       bool     `json:"raw,omitempty"`
	Options   *Options `json:"options,omitempty"`
	KeepAlive *int     `json:"keep_alive,omitempty"` // Seconds; 0 unloads immediately
}

// Options controls model generation parameters.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Seed        int      `json:"seed,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is one line of an /api/chat response.
type ChatResponse struct {
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
	Message    Message   `json:"message"`
	Done       bool      `json:"done"`
	DoneReason string    `json:"done_reason,omitempty"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	LoadDuration    int64 `json:"load_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	EvalDuration    int64 `json:"eval_duration,omitempty"`
}

// GenerateResponse is the response from /api/generate.
type GenerateResponse struct {
	Model      string `json:"model"`
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
}

// RunningModel describes a model currently loaded in the backend.
type RunningModel struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Size      int64     `json:"size"`
	SizeVRAM  int64     `json:"size_vram"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RunningModelsResponse is the response from /api/ps.
type RunningModelsResponse struct {
	Models []RunningModel `json:"models"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single delta from a streaming chat response.
type StreamChunk struct {
	// Thinking fragment from message.thinking
	Thinking string

	// Content fragment from message.content
	Content string

	Done       bool
	DoneReason string
	Model      string

	// Only populated on the final chunk
	TotalDuration    time.Duration
	CompletionTokens int
}

// IsEmpty reports whether the chunk carries neither thinking nor content.
func (c StreamChunk) IsEmpty() bool {
	return c.Thinking == "" && c.Content == ""
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// HELPERS
// =============================================================================

// Float returns a pointer to f, for Options.Temperature.
func Float(f float64) *float64 {
	return &f
}

// FormatSize renders the resident size for display.
func (m RunningModel) FormatSize() string {
	const gb = 1 << 30
	const mb = 1 << 20
	switch {
	case m.Size >= gb:
		return fmt.Sprintf("%.1f GB", float64(m.Size)/gb)
	case m.Size >= mb:
		return fmt.Sprintf("%.1f MB", float64(m.Size)/mb)
	default:
		return fmt.Sprintf("%d B", m.Size)
	}
}
