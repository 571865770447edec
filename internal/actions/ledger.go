// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/murmur/internal/functions"
	"github.com/jeranaias/murmur/internal/storage"
)

// ErrNoWeatherProvider is returned by the default weather collaborator.
var ErrNoWeatherProvider = errors.New("no weather provider configured")

// Ledger records scheduled and sent items in the store.
type Ledger struct {
	store *storage.Store
	now   func() time.Time
}

// NewLedger creates a ledger backed by store.
func NewLedger(store *storage.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// SetAlarm implements functions.Alarms.
func (l *Ledger) SetAlarm(ctx context.Context, clock, date, label string) (string, error) {
	if _, err := l.store.AddAlarm(ctx, storage.Alarm{Clock: clock, Date: date, Label: label}); err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Alarm set for %s %s", spokenClock(clock), l.spokenDate(date))
	if label != "" {
		msg += " for " + label
	}
	return msg + ".", nil
}

// CreateReminder implements functions.Reminders.
func (l *Ledger) CreateReminder(ctx context.Context, task, clock, date string) (string, error) {
	if _, err := l.store.AddReminder(ctx, storage.Reminder{Task: task, Clock: clock, Date: date}); err != nil {
		return "", err
	}
	msg := "I will remind you to " + task
	if clock != "" {
		msg += " at " + spokenClock(clock)
	}
	if date != "" {
		msg += " " + l.spokenDate(date)
	}
	return msg + ".", nil
}

// SendMessage implements functions.Messenger.
func (l *Ledger) SendMessage(ctx context.Context, recipient, body string) (string, error) {
	if _, err := l.store.AddMessage(ctx, storage.Message{Recipient: recipient, Body: body}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Message sent to %s.", recipient), nil
}

// OrderFood implements functions.Food.
func (l *Ledger) OrderFood(ctx context.Context, restaurant, items string) (string, error) {
	if _, err := l.store.AddOrder(ctx, storage.Order{Restaurant: restaurant, Items: items}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Ordered %s from %s.", items, restaurant), nil
}

// spokenDate renders YYYY-MM-DD relative to today.
func (l *Ledger) spokenDate(date string) string {
	now := l.now()
	switch date {
	case now.Format("2006-01-02"):
		return "today"
	case now.AddDate(0, 0, 1).Format("2006-01-02"):
		return "tomorrow"
	}
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return "on " + t.Format("Monday, January 2")
	}
	return "on " + date
}

// spokenClock renders HH:MM as 12-hour time.
func spokenClock(clock string) string {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return clock
	}
	return t.Format("3:04 PM")
}

// =============================================================================
// WEATHER
// =============================================================================

// NoWeather is the weather collaborator used when no provider is set up.
type NoWeather struct{}

// Forecast implements functions.Weather.
func (NoWeather) Forecast(context.Context, string, string) (string, error) {
	return "", ErrNoWeatherProvider
}

// =============================================================================
// WIRING
// =============================================================================

// Services assembles the executor collaborators. A nil weather uses
// NoWeather. A nil home or ledger leaves its functions unconfigured.
func Services(home *Home, ledger *Ledger, weather functions.Weather) functions.Services {
	if weather == nil {
		weather = NoWeather{}
	}
	svc := functions.Services{Weather: weather}
	if home != nil {
		svc.Lights = home
		svc.Thermostat = home
		svc.Media = home
		svc.Locks = home
	}
	if ledger != nil {
		svc.Alarms = ledger
		svc.Reminders = ledger
		svc.Messenger = ledger
		svc.Food = ledger
	}
	return svc
}
