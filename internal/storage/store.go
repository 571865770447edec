// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("store closed")
)

// =============================================================================
// RECORD TYPES
// =============================================================================

// Alarm is a scheduled alarm. Clock is HH:MM, Date is YYYY-MM-DD.
type Alarm struct {
	ID        string
	Clock     string
	Date      string
	Label     string
	CreatedAt time.Time
}

// Reminder is a scheduled reminder. Clock and Date may be empty.
type Reminder struct {
	ID        string
	Task      string
	Clock     string
	Date      string
	CreatedAt time.Time
}

// Message is a sent text message.
type Message struct {
	ID        string
	Recipient string
	Body      string
	SentAt    time.Time
}

// Order is a placed food order.
type Order struct {
	ID         string
	Restaurant string
	Items      string
	Status     string
	CreatedAt  time.Time
}

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS alarms (
	id         TEXT PRIMARY KEY,
	clock      TEXT NOT NULL,
	date       TEXT NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS reminders (
	id         TEXT PRIMARY KEY,
	task       TEXT NOT NULL,
	clock      TEXT NOT NULL DEFAULT '',
	date       TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id        TEXT PRIMARY KEY,
	recipient TEXT NOT NULL,
	body      TEXT NOT NULL,
	sent_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	id         TEXT PRIMARY KEY,
	restaurant TEXT NOT NULL,
	items      TEXT NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alarms_when ON alarms(date, clock);
CREATE INDEX IF NOT EXISTS idx_reminders_created ON reminders(created_at);
`

// =============================================================================
// STORE
// =============================================================================

// Store is the action database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	return s.db.Close()
}

func (s *Store) stamp(id *string, at *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if at.IsZero() {
		*at = s.now()
	}
}

// =============================================================================
// ALARMS
// =============================================================================

// AddAlarm stores an alarm and returns it with ID and CreatedAt filled.
func (s *Store) AddAlarm(ctx context.Context, a Alarm) (Alarm, error) {
	s.stamp(&a.ID, &a.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarms (id, clock, date, label, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Clock, a.Date, a.Label, a.CreatedAt.UnixMilli())
	if err != nil {
		return Alarm{}, fmt.Errorf("add alarm: %w", err)
	}
	return a, nil
}

// Alarms lists alarms ordered by date and time.
func (s *Store) Alarms(ctx context.Context) ([]Alarm, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, clock, date, label, created_at FROM alarms ORDER BY date, clock`)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()

	var out []Alarm
	for rows.Next() {
		var a Alarm
		var created int64
		if err := rows.Scan(&a.ID, &a.Clock, &a.Date, &a.Label, &created); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		a.CreatedAt = time.UnixMilli(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAlarm removes an alarm by ID.
func (s *Store) DeleteAlarm(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "alarms", id)
}

// =============================================================================
// REMINDERS
// =============================================================================

// AddReminder stores a reminder.
func (s *Store) AddReminder(ctx context.Context, r Reminder) (Reminder, error) {
	s.stamp(&r.ID, &r.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, task, clock, date, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Task, r.Clock, r.Date, r.CreatedAt.UnixMilli())
	if err != nil {
		return Reminder{}, fmt.Errorf("add reminder: %w", err)
	}
	return r, nil
}

// Reminders lists reminders in creation order.
func (s *Store) Reminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, clock, date, created_at FROM reminders ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var r Reminder
		var created int64
		if err := rows.Scan(&r.ID, &r.Task, &r.Clock, &r.Date, &created); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteReminder removes a reminder by ID.
func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "reminders", id)
}

// =============================================================================
// MESSAGES
// =============================================================================

// AddMessage records a sent message.
func (s *Store) AddMessage(ctx context.Context, m Message) (Message, error) {
	s.stamp(&m.ID, &m.SentAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, recipient, body, sent_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.Recipient, m.Body, m.SentAt.UnixMilli())
	if err != nil {
		return Message{}, fmt.Errorf("add message: %w", err)
	}
	return m, nil
}

// Messages lists sent messages, newest first, up to limit (0 = all).
func (s *Store) Messages(ctx context.Context, limit int) ([]Message, error) {
	query := `SELECT id, recipient, body, sent_at FROM messages ORDER BY sent_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sent int64
		if err := rows.Scan(&m.ID, &m.Recipient, &m.Body, &sent); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SentAt = time.UnixMilli(sent)
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// ORDERS
// =============================================================================

// AddOrder records a food order. An empty Status becomes "placed".
func (s *Store) AddOrder(ctx context.Context, o Order) (Order, error) {
	s.stamp(&o.ID, &o.CreatedAt)
	if o.Status == "" {
		o.Status = "placed"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (id, restaurant, items, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		o.ID, o.Restaurant, o.Items, o.Status, o.CreatedAt.UnixMilli())
	if err != nil {
		return Order{}, fmt.Errorf("add order: %w", err)
	}
	return o, nil
}

// Orders lists orders, newest first.
func (s *Store) Orders(ctx context.Context) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, restaurant, items, status, created_at FROM orders ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		var created int64
		if err := rows.Scan(&o.ID, &o.Restaurant, &o.Items, &o.Status, &created); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.CreatedAt = time.UnixMilli(created)
		out = append(out, o)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// deleteByID removes one row. Table names are package constants.
func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
