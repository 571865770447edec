// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopStream may be returned by a StreamCallback to end processing
// early. Process then returns nil.
var ErrStopStream = errors.New("stream stopped")

// StreamCallback is called for each delta, in arrival order.
// A non-nil return value stops the stream.
type StreamCallback func(chunk StreamChunk) error

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader parses newline-delimited JSON chat responses.
type StreamReader struct {
	reader    *bufio.Reader
	model     string
	chunks    int
	malformed int

	// OnMalformed, if set, is called for every line that fails to parse.
	OnMalformed func(line []byte, err error)
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReader(r)}
}

// Process reads the stream and calls the callback for each delta.
// Blocks until the stream is done, the connection closes, the callback
// stops it, or the context is cancelled.
func (s *StreamReader) Process(ctx context.Context, callback StreamCallback) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := s.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if chunk == nil {
			continue
		}

		if err := callback(*chunk); err != nil {
			if errors.Is(err, ErrStopStream) {
				return nil
			}
			return err
		}
		if chunk.Done {
			return nil
		}
	}
}

// Next reads a single line. It returns (nil, nil) for lines that carry
// nothing: blank lines, malformed JSON, and empty non-final deltas.
func (s *StreamReader) Next() (*StreamChunk, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil && !(err == io.EOF && len(line) > 0) {
		return nil, err
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	var response struct {
		ChatResponse
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		s.malformed++
		if s.OnMalformed != nil {
			s.OnMalformed(line, err)
		}
		return nil, nil
	}

	if response.Error != "" {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: response.Error}
	}

	if response.Model != "" {
		s.model = response.Model
	}

	chunk := &StreamChunk{
		Thinking:   response.Message.Thinking,
		Content:    response.Message.Content,
		Done:       response.Done,
		DoneReason: response.DoneReason,
		Model:      s.model,
	}
	if chunk.IsEmpty() && !chunk.Done {
		return nil, nil
	}

	if response.Done {
		chunk.TotalDuration = time.Duration(response.TotalDuration)
		chunk.CompletionTokens = response.EvalCount
	}

	s.chunks++
	return chunk, nil
}

// Chunks returns the number of deltas delivered.
func (s *StreamReader) Chunks() int {
	return s.chunks
}

// Malformed returns the number of lines skipped as unparseable.
func (s *StreamReader) Malformed() int {
	return s.malformed
}

// Model returns the model name reported by the stream.
func (s *StreamReader) Model() string {
	return s.model
}

// =============================================================================
// READ WATCHDOG
// =============================================================================

// watchdog closes the response body when no data arrives in time, which
// unblocks the pending read with an error.
type watchdog struct {
	mu    sync.Mutex
	timer *time.Timer
	fired atomic.Bool
}

func newWatchdog(body io.Closer, first time.Duration) *watchdog {
	w := &watchdog{}
	if first <= 0 {
		return w
	}
	w.timer = time.AfterFunc(first, func() {
		w.fired.Store(true)
		body.Close()
	})
	return w
}

// reset rearms the timer after a delta arrived.
func (w *watchdog) reset(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil || d <= 0 || w.fired.Load() {
		return
	}
	w.timer.Reset(d)
}

func (w *watchdog) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *watchdog) timedOut() bool {
	return w.fired.Load()
}
