// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager tracks conversation activity and fires an idle callback.
type Manager struct {
	mu sync.Mutex

	// Session tracking
	sessionID    string
	startTime    time.Time
	lastActivity time.Time

	// Idle configuration; zero disables the idle callback
	idleTimeout time.Duration
	idleFired   bool
	idleCount   int

	onIdle func()
	now    func() time.Time
}

// Config holds configuration for the session manager.
type Config struct {
	// IdleTimeout is how long without activity before models are
	// released (default: 10 minutes, 0 disables)
	IdleTimeout time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		IdleTimeout: 10 * time.Minute,
	}
}

// NewManager creates a new session manager.
func NewManager(cfg Config) *Manager {
	return newManager(cfg, time.Now)
}

func newManager(cfg Config, now func() time.Time) *Manager {
	start := now()
	return &Manager{
		sessionID:    "sess_" + uuid.NewString()[:8],
		startTime:    start,
		lastActivity: start,
		idleTimeout:  cfg.IdleTimeout,
		now:          now,
	}
}

// =============================================================================
// SESSION STATE
// =============================================================================

// SessionID returns the current session ID.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Duration returns how long the session has been active.
func (m *Manager) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.startTime)
}

// IdleTime returns how long since last activity.
func (m *Manager) IdleTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.lastActivity)
}

// RemainingTime returns time until the idle callback fires.
func (m *Manager) RemainingTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := m.idleTimeout - m.now().Sub(m.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IdleCount returns how many times the idle callback has fired.
func (m *Manager) IdleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleCount
}

// =============================================================================
// ACTIVITY TRACKING
// =============================================================================

// RecordActivity updates the last activity timestamp and re-arms the idle
// callback.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.now()
	m.idleFired = false
}

// SetIdleCallback sets the function called when the session goes idle.
func (m *Manager) SetIdleCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onIdle = fn
}

// SetIdleTimeout updates the idle timeout.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleTimeout = d
}

// =============================================================================
// IDLE CHECKING
// =============================================================================

// IsIdle returns true once the idle timeout has elapsed.
func (m *Manager) IsIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleLocked()
}

func (m *Manager) idleLocked() bool {
	return m.idleTimeout > 0 && m.now().Sub(m.lastActivity) >= m.idleTimeout
}

// Check fires the idle callback if the session has just gone idle.
// It reports whether the callback fired.
func (m *Manager) Check() bool {
	m.mu.Lock()
	fire := !m.idleFired && m.idleLocked()
	if fire {
		m.idleFired = true
		m.idleCount++
	}
	onIdle := m.onIdle
	m.mu.Unlock()

	// Execute callback outside lock
	if fire && onIdle != nil {
		onIdle()
	}
	return fire
}

// Run calls Check every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// =============================================================================
// BUBBLE TEA INTEGRATION
// =============================================================================

// TickMsg is sent periodically to check session state.
type TickMsg struct {
	Time time.Time
}

// IdleMsg indicates the session went idle and models were released.
type IdleMsg struct{}

// TickCmd returns a command that ticks periodically.
func TickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// HandleTick runs Check and keeps ticking.
func (m *Manager) HandleTick() tea.Cmd {
	cmds := []tea.Cmd{TickCmd()}
	if m.Check() {
		cmds = append(cmds, func() tea.Msg { return IdleMsg{} })
	}
	return tea.Batch(cmds...)
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status represents the current session status.
type Status struct {
	SessionID     string
	StartTime     time.Time
	Duration      time.Duration
	IdleTime      time.Duration
	RemainingTime time.Duration
	Idle          bool
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	idle := now.Sub(m.lastActivity)
	remaining := m.idleTimeout - idle
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		SessionID:     m.sessionID,
		StartTime:     m.startTime,
		Duration:      now.Sub(m.startTime),
		IdleTime:      idle,
		RemainingTime: remaining,
		Idle:          m.idleLocked(),
	}
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		secs := int(d.Seconds())
		return strconv.Itoa(secs) + "s"
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return strconv.Itoa(mins) + "m"
	}
	return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
}
