// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/events"
	"github.com/jeranaias/murmur/internal/history"
	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/ollama"
	"github.com/jeranaias/murmur/internal/segment"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Backend streams chat deltas in arrival order.
type Backend interface {
	ChatStream(ctx context.Context, req ollama.ChatRequest, callback ollama.StreamCallback) error
}

// Loader is told about every model a session is about to use.
type Loader interface {
	EnsureLoaded(model string)
}

// AudioSink accepts complete sentences. It must not block.
type AudioSink interface {
	QueueSentence(text string)
}

// Config holds coordinator settings.
type Config struct {
	// Model is the chat model.
	Model string

	// Segmenter configures sentence detection for the audio sink. The
	// zero value uses segment.DefaultConfig.
	Segmenter segment.Config

	// Options are passed through to every chat request.
	Options *ollama.Options
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator runs at most one Session at a time for one conversation.
type Coordinator struct {
	backend Backend
	history *history.History
	sink    events.Sink
	audio   AudioSink
	loader  Loader
	logger  zerolog.Logger

	mu      sync.Mutex
	config  Config
	seq     uint64
	current *Session
	last    *Session
	closed  bool

	// OnFinish, if set, is called from the read loop when a session ends.
	OnFinish func(*Session)
}

// New creates a coordinator. loader and audio may be nil.
func New(backend Backend, hist *history.History, sink events.Sink, audio AudioSink, loader Loader, cfg Config) *Coordinator {
	if cfg.Segmenter.Abbreviations == nil {
		cfg.Segmenter = segment.DefaultConfig()
	}
	return &Coordinator{
		backend: backend,
		history: hist,
		sink:    sink,
		audio:   audio,
		loader:  loader,
		config:  cfg,
		logger:  logging.For("stream"),
	}
}

// SetModel changes the chat model for future sessions.
func (c *Coordinator) SetModel(model string) {
	c.mu.Lock()
	c.config.Model = model
	c.mu.Unlock()
}

// Model returns the chat model.
func (c *Coordinator) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Model
}

// State returns Streaming while a session is active and Idle otherwise.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return Streaming
	}
	return Idle
}

// Last returns the most recently started session, or nil.
func (c *Coordinator) Last() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Start begins a new session over the current history. An active session
// is cancelled first and its read loop has exited before the new session
// publishes anything. ctx bounds the new session's request.
func (c *Coordinator) Start(ctx context.Context, thinking bool) (*Session, error) {
	c.Stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	// A concurrent Start may have won the race after Stop returned.
	for c.current != nil {
		prev := c.current
		prev.cancel()
		c.mu.Unlock()
		<-prev.done
		c.mu.Lock()
	}

	c.seq++
	streamCtx, cancel := context.WithCancel(ctx)
	s := newSession(c.seq, c.config.Model, thinking, segment.NewWithConfig(c.config.Segmenter), cancel)
	c.current = s
	c.last = s
	req := ollama.ChatRequest{
		Model:    c.config.Model,
		Messages: c.history.Messages(),
		Think:    thinking,
		Options:  c.config.Options,
	}
	c.mu.Unlock()

	if c.loader != nil {
		c.loader.EnsureLoaded(req.Model)
	}

	c.publish(s, events.KindStart, "", nil)
	c.logger.Debug().Uint64("seq", s.seq).Str("model", req.Model).Bool("think", thinking).Msg("stream started")

	go c.run(streamCtx, s, req)
	return s, nil
}

// Cancel requests cancellation of the active session without waiting.
// It reports whether a session was cancelled.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return false
	}
	return s.cancel()
}

// Stop cancels the active session and waits for its read loop to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Close stops the active session and rejects further starts.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Stop()
}

// =============================================================================
// READ LOOP
// =============================================================================

func (c *Coordinator) run(ctx context.Context, s *Session, req ollama.ChatRequest) {
	defer func() {
		s.cancelCtx()
		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
		close(s.done)
		if c.OnFinish != nil {
			c.OnFinish(s)
		}
	}()

	err := c.backend.ChatStream(ctx, req, func(chunk ollama.StreamChunk) error {
		if s.Cancelled() {
			return ollama.ErrStopStream
		}
		c.deliver(s, chunk)
		return nil
	})

	switch {
	case s.Cancelled():
		c.cancelled(s)
	case err != nil:
		c.failed(s, err)
	default:
		c.completed(s)
	}
}

// deliver applies one delta to the session and fans it out.
func (c *Coordinator) deliver(s *Session, chunk ollama.StreamChunk) {
	if chunk.Thinking != "" {
		c.publish(s, events.KindThought, s.appendThought(chunk.Thinking), nil)
	}
	if chunk.Content != "" {
		c.publish(s, events.KindResponse, s.appendResponse(chunk.Content), nil)
		for _, sentence := range s.seg.Add(chunk.Content) {
			c.speak(sentence)
		}
	}
}

func (c *Coordinator) completed(s *Session) {
	if tail, ok := s.seg.Flush(); ok {
		c.speak(tail)
	}
	response := s.Response()
	c.history.AppendAssistant(response)
	s.finish(Completed, nil)
	c.publish(s, events.KindDone, response, nil)
	c.logger.Debug().Uint64("seq", s.seq).Int("bytes", len(response)).Dur("took", s.Duration()).Msg("stream completed")
}

func (c *Coordinator) cancelled(s *Session) {
	s.seg.Reset()
	s.finish(Cancelled, nil)
	c.publish(s, events.KindCancelled, s.Response(), nil)
	c.logger.Debug().Uint64("seq", s.seq).Msg("stream cancelled")
}

func (c *Coordinator) failed(s *Session, err error) {
	partial := s.Response()
	terr := &TransportError{Seq: s.seq, Partial: partial, Cause: err}
	if partial != "" {
		c.history.AppendAssistant(partial)
	}
	s.seg.Reset()
	s.finish(Failed, terr)
	c.publish(s, events.KindError, partial, terr)

	c.logger.Warn().
		Uint64("seq", s.seq).
		Err(err).
		Bool("timeout", ollama.IsTimeout(err)).
		Int("partial_bytes", len(partial)).
		Msg("stream failed")
}

func (c *Coordinator) publish(s *Session, kind events.Kind, text string, err error) {
	if c.sink == nil {
		return
	}
	c.sink.Publish(events.Event{Kind: kind, Seq: s.seq, Text: text, Err: err})
}

func (c *Coordinator) speak(sentence string) {
	if c.audio != nil {
		c.audio.QueueSentence(sentence)
	}
}
