// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the side effects of executed functions.
//
// Alarms, reminders, sent messages and food orders are kept in a single
// SQLite database using the pure Go modernc.org/sqlite driver.
//
// # Key Types
//
//   - Store: database handle with typed add/list/delete methods
//   - Alarm, Reminder, Message, Order: stored records
//
// # Usage
//
//	store, err := storage.Open(filepath.Join(dataDir, "murmur.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	alarm, err := store.AddAlarm(ctx, storage.Alarm{Clock: "07:00", Date: "2025-03-15"})
package storage
