// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/murmur/internal/logging"
	"github.com/jeranaias/murmur/internal/ollama"
)

// =============================================================================
// TYPES
// =============================================================================

// Backend is the model server surface used for residency management.
type Backend interface {
	Preload(ctx context.Context, model string) error
	Unload(ctx context.Context, model string) error
	ListRunning(ctx context.Context) ([]ollama.RunningModel, error)
}

// ModelRecord is the manager's view of one model.
type ModelRecord struct {
	Name     string
	Resident bool
	LastUsed time.Time
}

// LifecycleError wraps a failed preload, unload or listing request.
type LifecycleError struct {
	Op    string
	Model string
	Cause error
}

func (e *LifecycleError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Model, e.Cause)
}

func (e *LifecycleError) Unwrap() error {
	return e.Cause
}

// Config holds manager settings.
type Config struct {
	// KeepAlive is how long the backend keeps an idle model (default: 5m).
	// Records unused for longer are treated as no longer resident.
	KeepAlive time.Duration

	// PreloadInterval and PreloadBurst throttle preload hints (default: 1s, 4).
	PreloadInterval time.Duration
	PreloadBurst    int

	// RequestTimeout bounds a single preload request (default: 2m).
	RequestTimeout time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		KeepAlive:       5 * time.Minute,
		PreloadInterval: time.Second,
		PreloadBurst:    4,
		RequestTimeout:  2 * time.Minute,
	}
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns the process-wide residency table.
type Manager struct {
	mu      sync.Mutex
	models  map[string]*ModelRecord
	backend Backend
	cfg     Config
	limiter *rate.Limiter
	log     zerolog.Logger
	wg      sync.WaitGroup

	// OnError, if set, observes every LifecycleError after it is logged.
	OnError func(err *LifecycleError)

	now func() time.Time
}

// New creates a manager with an empty residency table.
func New(backend Backend, cfg Config) *Manager {
	defaults := DefaultConfig()
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaults.KeepAlive
	}
	if cfg.PreloadInterval <= 0 {
		cfg.PreloadInterval = defaults.PreloadInterval
	}
	if cfg.PreloadBurst <= 0 {
		cfg.PreloadBurst = defaults.PreloadBurst
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	return &Manager{
		models:  make(map[string]*ModelRecord),
		backend: backend,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.PreloadInterval), cfg.PreloadBurst),
		log:     logging.For("lifecycle"),
		now:     time.Now,
	}
}

// EnsureLoaded records a use of model and, unless it is known to be
// resident, sends a preload hint in the background. It never blocks.
func (m *Manager) EnsureLoaded(model string) {
	if model == "" {
		return
	}

	m.mu.Lock()
	rec := m.recordLocked(model)
	now := m.now()
	fresh := rec.Resident && now.Sub(rec.LastUsed) < m.cfg.KeepAlive
	rec.LastUsed = now
	m.mu.Unlock()

	if fresh {
		return
	}
	if !m.limiter.Allow() {
		m.log.Debug().Str("model", model).Msg("preload hint throttled")
		return
	}

	m.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RequestTimeout)
		defer cancel()

		if err := m.backend.Preload(ctx, model); err != nil {
			m.fail(&LifecycleError{Op: "preload", Model: model, Cause: err})
			return
		}
		m.setResident(model, true)
		m.log.Debug().Str("model", model).Msg("model preloaded")
	})
}

// MarkIdle unloads one model in the background.
func (m *Manager) MarkIdle(model string) {
	if model == "" {
		return
	}
	m.spawn(func() { m.unload(model) })
}

// UnloadAll asks the backend which models are resident and unloads each of
// them with an independent request. It returns immediately.
func (m *Manager) UnloadAll() {
	m.spawn(func() {
		running, err := m.backend.ListRunning(context.Background())
		if err != nil {
			m.fail(&LifecycleError{Op: "list running models", Cause: err})
			return
		}

		m.log.Info().Int("count", len(running)).Msg("unloading resident models")
		for _, rm := range running {
			name := rm.Name
			m.spawn(func() { m.unload(name) })
		}
	})
}

// Refresh replaces residency flags with the backend's answer.
func (m *Manager) Refresh(ctx context.Context) error {
	running, err := m.backend.ListRunning(ctx)
	if err != nil {
		return &LifecycleError{Op: "list running models", Cause: err}
	}

	resident := make(map[string]bool, len(running))
	for _, rm := range running {
		resident[rm.Name] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for name, rec := range m.models {
		rec.Resident = resident[name]
	}
	for name := range resident {
		m.recordLocked(name).Resident = true
	}
	return nil
}

// Resident reports whether model is believed to be loaded.
func (m *Manager) Resident(model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.models[model]
	return ok && rec.Resident
}

// Records returns a snapshot of the table sorted by name.
func (m *Manager) Records() []ModelRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModelRecord, 0, len(m.models))
	for _, rec := range m.models {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Wait blocks until all background requests have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// =============================================================================
// INTERNALS
// =============================================================================

func (m *Manager) unload(model string) {
	if err := m.backend.Unload(context.Background(), model); err != nil {
		m.fail(&LifecycleError{Op: "unload", Model: model, Cause: err})
		return
	}
	m.setResident(model, false)
	m.log.Debug().Str("model", model).Msg("model unloaded")
}

func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

func (m *Manager) fail(err *LifecycleError) {
	m.log.Warn().Err(err.Cause).Str("op", err.Op).Str("model", err.Model).Msg("model lifecycle request failed")
	if m.OnError != nil {
		m.OnError(err)
	}
}

func (m *Manager) setResident(model string, resident bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(model).Resident = resident
}

// recordLocked returns the record for model, creating it. Caller holds m.mu.
func (m *Manager) recordLocked(model string) *ModelRecord {
	rec, ok := m.models[model]
	if !ok {
		rec = &ModelRecord{Name: model}
		m.models[model] = rec
	}
	return rec
}
