// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/events"
	"github.com/jeranaias/murmur/internal/functions"
	"github.com/jeranaias/murmur/internal/history"
	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/router"
	"github.com/jeranaias/murmur/internal/stream"
	"github.com/jeranaias/murmur/internal/util"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Classifier routes utterances.
type Classifier interface {
	Classify(ctx context.Context, utterance string) router.Decision
}

// Executor runs function calls.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Lifecycle manages model residency.
type Lifecycle interface {
	EnsureLoaded(model string)
	UnloadAll()
}

// Audio is the speech queue.
type Audio interface {
	QueueSentence(text string)
	Toggle(enabled bool) bool
	Enabled() bool
	Clear()
}

// ErrEmptyUtterance is returned for blank input.
var ErrEmptyUtterance = errors.New("empty utterance")

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Deps bundles the orchestrator collaborators. Audio and Lifecycle may be
// nil.
type Deps struct {
	Router      Classifier
	Executor    Executor
	Coordinator *stream.Coordinator
	History     *history.History
	Sink        events.Sink
	Audio       Audio
	Lifecycle   Lifecycle

	// RouterModel is preloaded by Warmup alongside the chat model.
	RouterModel string
}

// Outcome describes how one utterance was handled.
type Outcome struct {
	Decision router.Decision

	// Session is the started stream for chat decisions.
	Session *stream.Session

	// Result is the function result or failure message for calls.
	Result string
	Err    error
}

// Orchestrator dispatches utterances.
type Orchestrator struct {
	deps   Deps
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	dispatch sync.Mutex

	// OnActivity, if set, is called for every handled utterance.
	OnActivity func()
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:   deps,
		logger: logging.For("dialogue"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// History returns the conversation history.
func (o *Orchestrator) History() *history.History {
	return o.deps.History
}

// Handle classifies and dispatches one utterance. Chat decisions return as
// soon as the stream has started; ctx bounds classification and function
// execution only.
func (o *Orchestrator) Handle(ctx context.Context, utterance string) (Outcome, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Outcome{}, ErrEmptyUtterance
	}

	o.dispatch.Lock()
	defer o.dispatch.Unlock()

	if o.OnActivity != nil {
		o.OnActivity()
	}

	decision := o.deps.Router.Classify(ctx, utterance)
	o.logger.Debug().
		Str("utterance", util.TruncateRunes(utterance, 60)).
		Str("decision", decision.String()).
		Msg("routed")

	// Nothing from an earlier turn may land in history after this user turn.
	o.deps.Coordinator.Stop()

	if decision.IsCall() {
		return o.call(ctx, utterance, decision), nil
	}
	return o.chat(utterance, decision)
}

func (o *Orchestrator) call(ctx context.Context, utterance string, d router.Decision) Outcome {
	o.deps.History.AppendUser(utterance)

	out := Outcome{Decision: d}
	result, err := o.deps.Executor.Execute(ctx, d.Name, d.Arguments)
	if err != nil {
		out.Err = err
		out.Result = FailureMessage(err)
		o.logger.Info().Str("function", d.Name).Err(err).Msg("function call failed")
		o.deps.History.AppendAssistant(out.Result)
		o.publish(events.Event{Kind: events.KindError, Text: out.Result, Err: err})
		o.speak(out.Result)
		return out
	}

	out.Result = result
	o.deps.History.AppendAssistant(result)
	o.publish(events.Event{Kind: events.KindMessage, Text: result})
	o.speak(result)
	return out
}

func (o *Orchestrator) chat(utterance string, d router.Decision) (Outcome, error) {
	text := utterance
	if d.Thinking {
		if stripped := router.StripThinkFlag(utterance); stripped != "" {
			text = stripped
		}
	}
	o.deps.History.AppendUser(text)

	s, err := o.deps.Coordinator.Start(o.ctx, d.Thinking)
	if err != nil {
		return Outcome{Decision: d, Err: err}, fmt.Errorf("start stream: %w", err)
	}
	return Outcome{Decision: d, Session: s}, nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// Stop cancels the active generation and silences speech.
func (o *Orchestrator) Stop() {
	o.deps.Coordinator.Stop()
	if o.deps.Audio != nil {
		o.deps.Audio.Clear()
	}
}

// Clear stops generation and resets history to the system turn.
func (o *Orchestrator) Clear() {
	o.dispatch.Lock()
	defer o.dispatch.Unlock()

	o.Stop()
	o.deps.History.Reset()
	o.publish(events.Event{Kind: events.KindStatus, Text: "Chat cleared."})
}

// ToggleTTS flips speech playback and returns the new state.
func (o *Orchestrator) ToggleTTS() bool {
	if o.deps.Audio == nil {
		return false
	}
	return o.SetTTS(!o.deps.Audio.Enabled())
}

// SetTTS sets speech playback and returns the resulting state.
func (o *Orchestrator) SetTTS(enabled bool) bool {
	if o.deps.Audio == nil {
		return false
	}
	state := o.deps.Audio.Toggle(enabled)
	msg := "Speech disabled."
	if state {
		msg = "Speech enabled."
	}
	o.publish(events.Event{Kind: events.KindStatus, Text: msg})
	return state
}

// TTSEnabled reports whether speech playback is on.
func (o *Orchestrator) TTSEnabled() bool {
	return o.deps.Audio != nil && o.deps.Audio.Enabled()
}

// SwitchContext is called when the user leaves the conversation surface.
// It stops generation and unloads every resident model in the background.
func (o *Orchestrator) SwitchContext() {
	o.Stop()
	if o.deps.Lifecycle != nil {
		o.deps.Lifecycle.UnloadAll()
	}
}

// Warmup sends preload hints for the chat and router models.
func (o *Orchestrator) Warmup() {
	if o.deps.Lifecycle == nil {
		return
	}
	o.deps.Lifecycle.EnsureLoaded(o.deps.Coordinator.Model())
	if o.deps.RouterModel != "" {
		o.deps.Lifecycle.EnsureLoaded(o.deps.RouterModel)
	}
}

// Close stops generation and rejects further streams.
func (o *Orchestrator) Close() {
	o.deps.Coordinator.Close()
	if o.deps.Audio != nil {
		o.deps.Audio.Clear()
	}
	o.cancel()
}

func (o *Orchestrator) publish(e events.Event) {
	if o.deps.Sink != nil {
		o.deps.Sink.Publish(e)
	}
}

func (o *Orchestrator) speak(text string) {
	if o.deps.Audio != nil {
		o.deps.Audio.QueueSentence(text)
	}
}

// =============================================================================
// FAILURE MESSAGES
// =============================================================================

// FailureMessage renders a function error as a sentence for the user.
func FailureMessage(err error) string {
	var ve *functions.ValidationError
	var ee *functions.ExecutionError
	switch {
	case errors.Is(err, functions.ErrUnknownFunction):
		return "Sorry, I don't know how to do that."
	case errors.As(err, &ve) && ve.Field != "":
		return fmt.Sprintf("Sorry, I couldn't understand the %s for that request.", ve.Field)
	case errors.As(err, &ve):
		return "Sorry, that request was incomplete."
	case errors.Is(err, functions.ErrNotConfigured):
		return "Sorry, that service isn't set up yet."
	case errors.As(err, &ee):
		return fmt.Sprintf("Sorry, I couldn't %s.", strings.ReplaceAll(ee.Function, "_", " "))
	default:
		return "Sorry, something went wrong."
	}
}
