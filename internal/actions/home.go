// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package actions

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DeviceState is a snapshot of the simulated home.
type DeviceState struct {
	Lights      map[string]string
	Locks       map[string]bool
	Temperature float64
	Unit        string
	TVOn        bool
	TVChannel   string
	TVVolume    int
	TVMuted     bool
	NowPlaying  string
	MusicSource string
}

// Home is an in-memory smart home. Safe for concurrent use.
type Home struct {
	mu    sync.Mutex
	state DeviceState
}

// NewHome creates a home with all lights off and all doors unlocked.
func NewHome() *Home {
	return &Home{state: DeviceState{
		Lights:      make(map[string]string),
		Locks:       make(map[string]bool),
		Temperature: 70,
		Unit:        "fahrenheit",
		TVVolume:    20,
	}}
}

// State returns a copy of the current device state.
func (h *Home) State() DeviceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.state
	s.Lights = make(map[string]string, len(h.state.Lights))
	for k, v := range h.state.Lights {
		s.Lights[k] = v
	}
	s.Locks = make(map[string]bool, len(h.state.Locks))
	for k, v := range h.state.Locks {
		s.Locks[k] = v
	}
	return s
}

// Rooms returns the rooms whose lights have been touched, sorted.
func (h *Home) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := make([]string, 0, len(h.state.Lights))
	for r := range h.state.Lights {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// SetLight implements functions.Lights.
func (h *Home) SetLight(_ context.Context, room, action string) (string, error) {
	room = place(room)
	h.mu.Lock()
	h.state.Lights[room] = action
	h.mu.Unlock()

	switch action {
	case "dim":
		return fmt.Sprintf("The %s lights are dimmed.", room), nil
	default:
		return fmt.Sprintf("The %s lights are now %s.", room, action), nil
	}
}

// SetTemperature implements functions.Thermostat.
func (h *Home) SetTemperature(_ context.Context, value float64, unit string) (string, error) {
	h.mu.Lock()
	h.state.Temperature = value
	h.state.Unit = unit
	h.mu.Unlock()
	return fmt.Sprintf("The thermostat is set to %s degrees %s.", strconv.FormatFloat(value, 'f', -1, 64), unit), nil
}

// PlayMusic implements functions.Media.
func (h *Home) PlayMusic(_ context.Context, query, source string) (string, error) {
	if source == "" {
		source = "spotify"
	}
	h.mu.Lock()
	h.state.NowPlaying = query
	h.state.MusicSource = source
	h.mu.Unlock()
	return fmt.Sprintf("Now playing %s on %s.", query, titleCase(source)), nil
}

// ControlTV implements functions.Media.
func (h *Home) ControlTV(_ context.Context, action, value string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch action {
	case "on":
		h.state.TVOn = true
		return "The TV is on.", nil
	case "off":
		h.state.TVOn = false
		return "The TV is off.", nil
	case "mute":
		h.state.TVMuted = true
		return "The TV is muted.", nil
	case "unmute":
		h.state.TVMuted = false
		return "The TV is unmuted.", nil
	case "channel":
		if value == "" {
			return "", fmt.Errorf("no channel given")
		}
		h.state.TVOn = true
		h.state.TVChannel = value
		return fmt.Sprintf("Switched the TV to %s.", value), nil
	case "volume":
		level, err := volume(h.state.TVVolume, value)
		if err != nil {
			return "", err
		}
		h.state.TVVolume = level
		return fmt.Sprintf("TV volume is %d.", level), nil
	}
	return "", fmt.Errorf("unsupported TV action %q", action)
}

// SetLock implements functions.Locks.
func (h *Home) SetLock(_ context.Context, door string, locked bool) (string, error) {
	door = place(door)
	h.mu.Lock()
	h.state.Locks[door] = locked
	h.mu.Unlock()
	if locked {
		return fmt.Sprintf("The %s door is now locked.", door), nil
	}
	return fmt.Sprintf("The %s door is now unlocked.", door), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// place normalizes a room or door name: "Front Door" -> "front".
func place(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "the ")
	n = strings.TrimSuffix(n, " door")
	n = strings.TrimSuffix(n, " room")
	if n == "living" {
		n = "living room"
	}
	if n == "" {
		n = "main"
	}
	return n
}

func volume(current int, value string) (int, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "up", "louder", "":
		current += 5
	case "down", "quieter", "lower":
		current -= 5
	default:
		n, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
		if err != nil {
			return 0, fmt.Errorf("invalid volume %q", value)
		}
		current = n
	}
	if current < 0 {
		current = 0
	}
	if current > 100 {
		current = 100
	}
	return current, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
