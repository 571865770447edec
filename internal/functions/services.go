// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import "context"

// =============================================================================
// ACTION COLLABORATORS
// =============================================================================
//
// Each collaborator receives fully normalized arguments and returns a short
// confirmation sentence.

// Lights switches or dims the lights in a room. Action is on, off or dim.
type Lights interface {
	SetLight(ctx context.Context, room, action string) (string, error)
}

// Thermostat sets the target temperature. Unit is celsius or fahrenheit.
type Thermostat interface {
	SetTemperature(ctx context.Context, value float64, unit string) (string, error)
}

// Media plays music and drives the TV.
type Media interface {
	PlayMusic(ctx context.Context, query, source string) (string, error)
	ControlTV(ctx context.Context, action, value string) (string, error)
}

// Alarms schedules alarms. Clock is HH:MM and date is YYYY-MM-DD.
type Alarms interface {
	SetAlarm(ctx context.Context, clock, date, label string) (string, error)
}

// Reminders schedules reminders. Clock and date may be empty.
type Reminders interface {
	CreateReminder(ctx context.Context, task, clock, date string) (string, error)
}

// Messenger sends text messages.
type Messenger interface {
	SendMessage(ctx context.Context, recipient, body string) (string, error)
}

// Weather reports forecasts.
type Weather interface {
	Forecast(ctx context.Context, location, date string) (string, error)
}

// Locks locks or unlocks a door.
type Locks interface {
	SetLock(ctx context.Context, door string, locked bool) (string, error)
}

// Food places delivery orders.
type Food interface {
	OrderFood(ctx context.Context, restaurant, items string) (string, error)
}

// Services bundles the collaborators. A nil field makes the matching
// functions fail with ErrNotConfigured.
type Services struct {
	Lights     Lights
	Thermostat Thermostat
	Media      Media
	Alarms     Alarms
	Reminders  Reminders
	Messenger  Messenger
	Weather    Weather
	Locks      Locks
	Food       Food
}
