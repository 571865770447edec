// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "murmur.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Alarms(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	late, err := store.AddAlarm(ctx, Alarm{Clock: "18:30", Date: "2025-03-15", Label: "dinner"})
	if err != nil {
		t.Fatalf("AddAlarm failed: %v", err)
	}
	if late.ID == "" || late.CreatedAt.IsZero() {
		t.Errorf("AddAlarm should fill ID and CreatedAt, got %+v", late)
	}
	if _, err := store.AddAlarm(ctx, Alarm{Clock: "07:00", Date: "2025-03-15"}); err != nil {
		t.Fatalf("AddAlarm failed: %v", err)
	}

	alarms, err := store.Alarms(ctx)
	if err != nil {
		t.Fatalf("Alarms failed: %v", err)
	}
	if len(alarms) != 2 {
		t.Fatalf("Alarms count = %d, want 2", len(alarms))
	}
	if alarms[0].Clock != "07:00" || alarms[1].Label != "dinner" {
		t.Errorf("Alarms order = %+v", alarms)
	}

	if err := store.DeleteAlarm(ctx, late.ID); err != nil {
		t.Fatalf("DeleteAlarm failed: %v", err)
	}
	if err := store.DeleteAlarm(ctx, late.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteAlarm twice = %v, want ErrNotFound", err)
	}
}

func TestStore_Reminders(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, task := range []string{"water plants", "call mom"} {
		_, err := store.AddReminder(ctx, Reminder{Task: task, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatalf("AddReminder failed: %v", err)
		}
	}

	reminders, err := store.Reminders(ctx)
	if err != nil {
		t.Fatalf("Reminders failed: %v", err)
	}
	if len(reminders) != 2 || reminders[0].Task != "water plants" {
		t.Errorf("Reminders = %+v", reminders)
	}
	if !reminders[1].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v, want %v", reminders[1].CreatedAt, base.Add(time.Minute))
	}
}

func TestStore_MessagesAndOrders(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.AddMessage(ctx, Message{Recipient: "Sam", Body: string(rune('a' + i)), SentAt: base.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}
	msgs, err := store.Messages(ctx, 2)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Body != "c" {
		t.Errorf("Messages = %+v, want newest two", msgs)
	}

	order, err := store.AddOrder(ctx, Order{Restaurant: "Luigi's", Items: "pizza"})
	if err != nil {
		t.Fatalf("AddOrder failed: %v", err)
	}
	if order.Status != "placed" {
		t.Errorf("Status = %q, want %q", order.Status, "placed")
	}
	orders, err := store.Orders(ctx)
	if err != nil || len(orders) != 1 {
		t.Fatalf("Orders = %v, %v", orders, err)
	}
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "murmur.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.AddAlarm(context.Background(), Alarm{Clock: "06:00", Date: "2025-01-01"}); err != nil {
		t.Fatalf("AddAlarm failed: %v", err)
	}
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()
	alarms, err := store.Alarms(context.Background())
	if err != nil || len(alarms) != 1 {
		t.Errorf("Alarms after reopen = %v, %v", alarms, err)
	}
}
