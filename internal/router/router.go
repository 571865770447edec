// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/functions"
	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/ollama"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// DefaultModel is the function-calling model used for classification.
const DefaultModel = "functiongemma:270m"

// Config holds router settings.
type Config struct {
	// Model is the classification model.
	Model string

	// Timeout bounds one classification request.
	Timeout time.Duration

	// BypassPhrases skip classification. nil uses DefaultBypassPhrases.
	BypassPhrases []string

	// BypassMaxWords is the length under which utterances without an
	// action word skip classification.
	BypassMaxWords int
}

// DefaultConfig returns the default router configuration.
func DefaultConfig() Config {
	return Config{
		Model:          DefaultModel,
		Timeout:        10 * time.Second,
		BypassMaxWords: 3,
	}
}

// Generator is the non-streaming backend call used for classification.
type Generator interface {
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error)
}

// ============================================================================
// ROUTER
// ============================================================================

// Router classifies utterances. Safe for concurrent use.
type Router struct {
	gen    Generator
	config Config
	defs   []*functions.Definition
	bypass atomic.Pointer[Bypass]
	logger zerolog.Logger

	// OnError, if set, observes every classification failure.
	OnError func(*ClassificationError)
}

// New creates a router over the given backend. Zero config fields take
// their defaults.
func New(gen Generator, cfg Config) *Router {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BypassMaxWords <= 0 {
		cfg.BypassMaxWords = def.BypassMaxWords
	}
	r := &Router{
		gen:    gen,
		config: cfg,
		defs:   functions.Definitions(),
		logger: logging.For("router"),
	}
	r.bypass.Store(NewBypass(cfg.BypassPhrases, cfg.BypassMaxWords))
	return r
}

// SetBypassPhrases replaces the bypass phrase list. nil restores
// DefaultBypassPhrases.
func (r *Router) SetBypassPhrases(phrases []string) {
	r.bypass.Store(NewBypass(phrases, r.config.BypassMaxWords))
}

// Model returns the classification model name.
func (r *Router) Model() string {
	return r.config.Model
}

// Classify routes one utterance. It never fails: any error during
// classification yields Passthrough with thinking disabled. It does not
// touch conversation history.
func (r *Router) Classify(ctx context.Context, utterance string) Decision {
	if HasThinkFlag(utterance) {
		return Passthrough(true, "think flag")
	}
	if r.bypass.Load().Match(utterance) {
		return Passthrough(false, "bypass")
	}

	start := time.Now()
	d, err := r.classify(ctx, utterance)
	if err != nil {
		r.fail(err)
		return Passthrough(false, "classifier unavailable")
	}
	r.logger.Debug().
		Str("decision", d.String()).
		Dur("took", time.Since(start)).
		Msg("classified")
	return d
}

func (r *Router) classify(ctx context.Context, utterance string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	resp, err := r.gen.Generate(ctx, ollama.GenerateRequest{
		Model:  r.config.Model,
		Prompt: BuildPrompt(r.defs, utterance),
		Raw:    true,
		Options: &ollama.Options{
			Temperature: ollama.Float(0),
			Seed:        42,
			NumPredict:  150,
			Stop:        StopSequences,
		},
	})
	if err != nil {
		return Decision{}, &ClassificationError{Op: "request", Cause: err}
	}

	name, args, ok, err := ParseCall(resp.Response)
	if err != nil {
		return Decision{}, &ClassificationError{Op: "parse", Cause: err}
	}
	if !ok {
		return Passthrough(false, "no call"), nil
	}
	if _, known := functions.Lookup(name); !known {
		r.logger.Debug().Str("function", name).Msg("classifier named unknown function")
		return Passthrough(false, fmt.Sprintf("unknown function %s", strings.TrimSpace(name))), nil
	}
	return Call(name, args), nil
}

func (r *Router) fail(err error) {
	ce, ok := err.(*ClassificationError)
	if !ok {
		ce = &ClassificationError{Op: "classify", Cause: err}
	}
	r.logger.Warn().Err(ce).Msg("classification failed, falling back to chat")
	if r.OnError != nil {
		r.OnError(ce)
	}
}
