// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/murmur/internal/segment"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle state of a session or coordinator.
type State int

const (
	Idle State = iota
	Streaming
	Completed
	Cancelled
	Failed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one generation. Its buffers are append-only.
type Session struct {
	seq      uint64
	model    string
	thinking bool
	started  time.Time

	cancelled atomic.Bool
	cancelCtx context.CancelFunc
	done      chan struct{}

	// seg is touched only by the read loop.
	seg *segment.Segmenter

	mu       sync.Mutex
	state    State
	thought  strings.Builder
	response strings.Builder
	err      error
	ended    time.Time
}

func newSession(seq uint64, model string, thinking bool, seg *segment.Segmenter, cancel context.CancelFunc) *Session {
	return &Session{
		seq:       seq,
		model:     model,
		thinking:  thinking,
		started:   time.Now(),
		cancelCtx: cancel,
		done:      make(chan struct{}),
		seg:       seg,
		state:     Streaming,
	}
}

// Seq returns the session sequence number.
func (s *Session) Seq() uint64 { return s.seq }

// Model returns the model generating this session.
func (s *Session) Model() string { return s.model }

// Thinking reports whether the reasoning channel was requested.
func (s *Session) Thinking() bool { return s.thinking }

// Cancelled reports whether cancellation was requested.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

// Done is closed when the read loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Response returns the response text accumulated so far.
func (s *Session) Response() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response.String()
}

// Thought returns the thought text accumulated so far.
func (s *Session) Thought() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thought.String()
}

// Err returns the failure cause of a Failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Duration returns how long the session ran, or has run so far.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended.IsZero() {
		return time.Since(s.started)
	}
	return s.ended.Sub(s.started)
}

// cancel requests cancellation. The read loop observes the flag at the
// next delta; the context cancel unblocks a pending read.
func (s *Session) cancel() bool {
	if !s.cancelled.CompareAndSwap(false, true) {
		return false
	}
	s.cancelCtx()
	return true
}

func (s *Session) appendThought(fragment string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thought.WriteString(fragment)
	return s.thought.String()
}

func (s *Session) appendResponse(fragment string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response.WriteString(fragment)
	return s.response.String()
}

func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.err = err
	s.ended = time.Now()
	s.mu.Unlock()
}
