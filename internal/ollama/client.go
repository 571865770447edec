// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/logging"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel errors by type.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	return ok && t.Cause == nil && t.Type == e.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for errors.Is checks. They match any ClientError of the same type.
var (
	ErrNotRunning      = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout         = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound   = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	ErrConnection      = &ClientError{Type: ErrTypeConnection, Message: "connection failed"}
	ErrInvalidResponse = &ClientError{Type: ErrTypeInvalidResponse, Message: "invalid response"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the server root (default: http://127.0.0.1:11434)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// FirstTokenTimeout bounds the wait for the first streamed line (default: 60s)
	FirstTokenTimeout time.Duration

	// StreamIdleTimeout bounds the gap between streamed lines (default: 30s)
	StreamIdleTimeout time.Duration

	// PsTimeout for listing resident models (default: 2s)
	PsTimeout time.Duration

	// UnloadTimeout for a single unload request (default: 5s)
	UnloadTimeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:           "http://127.0.0.1:11434",
		Timeout:           30 * time.Second,
		FirstTokenTimeout: 60 * time.Second,
		StreamIdleTimeout: 30 * time.Second,
		PsTimeout:         2 * time.Second,
		UnloadTimeout:     5 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
// The Client is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	log          zerolog.Logger
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.FirstTokenTimeout == 0 {
		config.FirstTokenTimeout = defaults.FirstTokenTimeout
	}
	if config.StreamIdleTimeout == 0 {
		config.StreamIdleTimeout = defaults.StreamIdleTimeout
	}
	if config.PsTimeout == 0 {
		config.PsTimeout = defaults.PsTimeout
	}
	if config.UnloadTimeout == 0 {
		config.UnloadTimeout = defaults.UnloadTimeout
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		// Streams have no overall deadline; reads are bounded by the watchdog.
		streamClient: &http.Client{},
		log:          logging.For("ollama"),
	}
}

// Config returns the client configuration.
func (c *Client) Config() *ClientConfig {
	return c.config
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{Type: ErrTypeConnection, Message: "unexpected status from Ollama: " + resp.Status}
	}
	return nil
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate sends a non-streaming /api/generate request.
// The caller bounds the request with ctx; the client timeout still applies.
func (c *Client) Generate(ctx context.Context, reqBody GenerateRequest) (*GenerateResponse, error) {
	reqBody.Stream = false

	var result GenerateResponse
	if err := c.postJSON(ctx, c.httpClient, "/api/generate", reqBody, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Preload asks the backend to load a model without generating anything.
func (c *Client) Preload(ctx context.Context, model string) error {
	return c.postJSON(ctx, c.httpClient, "/api/generate", GenerateRequest{Model: model}, nil)
}

// Unload asks the backend to evict a model immediately. The request is a
// generate call with an empty prompt and keep_alive set to zero.
func (c *Client) Unload(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.UnloadTimeout)
	defer cancel()

	keepAlive := 0
	return c.postJSON(ctx, c.httpClient, "/api/generate", GenerateRequest{
		Model:     model,
		KeepAlive: &keepAlive,
	}, nil)
}

// =============================================================================
// RESIDENT MODELS
// =============================================================================

// ListRunning returns the models currently loaded in the backend (GET /api/ps).
func (c *Client) ListRunning(ctx context.Context) ([]RunningModel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.PsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/ps", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer drainAndClose(resp.Body)

	if err := statusError(resp, "list running models"); err != nil {
		return nil, err
	}

	var result RunningModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return result.Models, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream sends a streaming chat request and calls the callback for each
// delta. The callback is called synchronously in arrival order.
//
// A read that waits longer than FirstTokenTimeout (before the first delta)
// or StreamIdleTimeout (between deltas) fails with ErrTimeout. Malformed
// lines are skipped.
func (c *Client) ChatStream(ctx context.Context, reqBody ChatRequest, callback StreamCallback) error {
	reqBody.Stream = true

	resp, err := c.post(ctx, c.streamClient, "/api/chat", reqBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	wd := newWatchdog(resp.Body, c.config.FirstTokenTimeout)
	defer wd.stop()

	reader := NewStreamReader(resp.Body)
	reader.OnMalformed = func(line []byte, err error) {
		c.log.Debug().Err(err).Int("bytes", len(line)).Msg("skipping malformed stream line")
	}

	var callbackErr error
	err = reader.Process(ctx, func(chunk StreamChunk) error {
		wd.reset(c.config.StreamIdleTimeout)
		if err := callback(chunk); err != nil {
			callbackErr = err
			return err
		}
		return nil
	})

	switch {
	case err == nil:
		return nil
	case callbackErr != nil && err == callbackErr:
		return err
	case wd.timedOut():
		return &ClientError{Type: ErrTypeTimeout, Message: "stream stalled", Cause: err}
	case ctx.Err() != nil:
		return ctx.Err()
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return err
	}
	return &ClientError{Type: ErrTypeConnection, Message: "stream interrupted", Cause: err}
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// post sends a JSON body and returns the response after checking its status.
func (c *Client) post(ctx context.Context, hc *http.Client, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, transportError(err)
	}

	if err := statusError(resp, "request to "+path); err != nil {
		drainAndClose(resp.Body)
		return nil, err
	}
	return resp, nil
}

// postJSON sends a JSON body and decodes the JSON response into out, if non-nil.
func (c *Client) postJSON(ctx context.Context, hc *http.Client, path string, body, out interface{}) error {
	resp, err := c.post(ctx, hc, path, body)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// statusError converts a non-200 response into a ClientError.
func statusError(resp *http.Response, what string) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
	}

	var ollamaErr OllamaError
	if err := json.NewDecoder(resp.Body).Decode(&ollamaErr); err == nil && ollamaErr.Error != "" {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: ollamaErr.Error}
	}
	return &ClientError{Type: ErrTypeInvalidResponse, Message: what + " failed: " + resp.Status}
}

// transportError classifies an error returned by http.Client.Do.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not reachable", Cause: err}
}

func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
