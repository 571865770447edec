// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/actions"
	"github.com/jeranaias/murmur/internal/audio"
	"github.com/jeranaias/murmur/internal/config"
	"github.com/jeranaias/murmur/internal/dialogue"
	"github.com/jeranaias/murmur/internal/events"
	"github.com/jeranaias/murmur/internal/functions"
	"github.com/jeranaias/murmur/internal/history"
	"github.com/jeranaias/murmur/internal/lifecycle"
	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/ollama"
	"github.com/jeranaias/murmur/internal/router"
	"github.com/jeranaias/murmur/internal/session"
	"github.com/jeranaias/murmur/internal/storage"
	"github.com/jeranaias/murmur/internal/stream"
)

// =============================================================================
// APP
// =============================================================================

// idleCheckInterval is how often line and server modes check for idleness.
const idleCheckInterval = time.Second

// App is one assembled dialogue stack.
type App struct {
	Client      *ollama.Client
	Models      *lifecycle.Manager
	Store       *storage.Store
	Router      *router.Router
	History     *history.History
	Bus         *events.Bus
	Audio       *audio.Queue
	Coordinator *stream.Coordinator
	Dialogue    *dialogue.Orchestrator
	Session     *session.Manager

	logger zerolog.Logger

	mu  sync.Mutex
	cfg *config.Config

	closeOnce sync.Once
}

// newClient builds the Ollama client from configured timeouts.
func newClient(cfg *config.Config) *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeouts.Request,
		FirstTokenTimeout: cfg.Timeouts.FirstToken,
		StreamIdleTimeout: cfg.Timeouts.StreamIdle,
		PsTimeout:         cfg.Timeouts.Ps,
		UnloadTimeout:     cfg.Timeouts.Unload,
	})
}

// newRouter builds the classifier from configuration.
func newRouter(client *ollama.Client, cfg *config.Config) *router.Router {
	rcfg := router.DefaultConfig()
	rcfg.Model = cfg.RouterModel
	rcfg.Timeout = cfg.Timeouts.Classify
	rcfg.BypassPhrases = bypassPhrases(cfg.BypassWords)
	return router.New(client, rcfg)
}

// bypassPhrases maps an empty configured list to the built-in one.
func bypassPhrases(words []string) []string {
	if len(words) == 0 {
		return nil
	}
	return words
}

// NewApp wires the full stack. The caller must Close it.
func NewApp(cfg *config.Config) (*App, error) {
	return newApp(cfg, nil)
}

// newApp wires the stack with an optional speaker override for tests.
func newApp(cfg *config.Config, speaker audio.Speaker) (*App, error) {
	store, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open action store: %w", err)
	}

	client := newClient(cfg)
	models := lifecycle.New(client, lifecycle.DefaultConfig())

	executor := functions.NewExecutor(actions.Services(
		actions.NewHome(),
		actions.NewLedger(store),
		actions.NoWeather{},
	))

	if speaker == nil {
		speaker = audio.NewCommandSpeaker(cfg.Speech.Command, cfg.Speech.Args)
	}
	queue := audio.NewQueue(speaker, cfg.TTSEnabled)

	hist := history.New(cfg.SystemPrompt, cfg.MaxHistory)
	bus := events.NewBus(events.DefaultBuffer)
	coord := stream.New(client, hist, bus, queue, models, stream.Config{Model: cfg.Model})
	rt := newRouter(client, cfg)

	orch := dialogue.New(dialogue.Deps{
		Router:      rt,
		Executor:    executor,
		Coordinator: coord,
		History:     hist,
		Sink:        bus,
		Audio:       queue,
		Lifecycle:   models,
		RouterModel: rt.Model(),
	})

	idle := session.NewManager(session.Config{IdleTimeout: cfg.IdleUnload})
	idle.SetIdleCallback(models.UnloadAll)
	orch.OnActivity = idle.RecordActivity

	app := &App{
		Client:      client,
		Models:      models,
		Store:       store,
		Router:      rt,
		History:     hist,
		Bus:         bus,
		Audio:       queue,
		Coordinator: coord,
		Dialogue:    orch,
		Session:     idle,
		logger:      logging.For("app"),
		cfg:         cfg.Clone(),
	}
	models.OnError = app.lifecycleFailed
	app.logger.Debug().
		Str("model", cfg.Model).
		Str("router_model", cfg.RouterModel).
		Str("session", idle.SessionID()).
		Msg("dialogue stack ready")
	return app, nil
}

// Config returns a copy of the active configuration.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Clone()
}

// Start checks the backend and warms the models. An unreachable backend is
// logged and not fatal; the first request reports it to the user.
func (a *App) Start(ctx context.Context) {
	if err := a.Client.CheckRunning(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("ollama not reachable")
		if ollama.IsNotRunning(err) {
			a.status(fmt.Sprintf("Ollama is not running at %s. Start it with `ollama serve`.", a.Client.Config().BaseURL))
		}
		return
	}
	a.Dialogue.Warmup()
}

// lifecycleFailed tells the user about a model that is not installed.
// Other lifecycle failures are only logged.
func (a *App) lifecycleFailed(err *lifecycle.LifecycleError) {
	if err.Op == "preload" && ollama.IsModelNotFound(err) {
		a.status(fmt.Sprintf("Model %s is not installed. Pull it with `ollama pull %s`.", err.Model, err.Model))
	}
}

func (a *App) status(text string) {
	a.Bus.Publish(events.Event{Kind: events.KindStatus, Text: text})
}

// Reload applies the settings that can change while running: speech
// playback, history bound, system prompt, bypass words and idle timeout.
func (a *App) Reload(next *config.Config) {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = next.Clone()
	a.mu.Unlock()

	if next.TTSEnabled != prev.TTSEnabled {
		a.Dialogue.SetTTS(next.TTSEnabled)
	}
	if next.MaxHistory != prev.MaxHistory {
		a.History.SetMaxHistory(next.MaxHistory)
	}
	if next.SystemPrompt != prev.SystemPrompt {
		a.History.SetSystemPrompt(next.SystemPrompt)
	}
	a.Router.SetBypassPhrases(bypassPhrases(next.BypassWords))
	if next.IdleUnload != prev.IdleUnload {
		a.Session.SetIdleTimeout(next.IdleUnload)
	}
	a.logger.Info().Msg("configuration reloaded")
}

// Watch hot-reloads path until ctx is cancelled. Nothing is watched when
// the config directory does not exist.
func (a *App) Watch(ctx context.Context, path string) {
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return
	}
	go func() {
		if err := config.Watch(ctx, path, a.Reload); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).Str("path", path).Msg("config watch stopped")
		}
	}()
}

// Close shuts the bus, stops generation, silences speech and closes the
// store. The bus goes first so no publisher is left blocked once its
// consumer is gone. Resident models are left loaded; their keep-alive
// expires them.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.Bus.Close()
		a.Dialogue.Close()
		a.Audio.Close()
		a.Models.Wait()
		err = a.Store.Close()
	})
	return err
}
