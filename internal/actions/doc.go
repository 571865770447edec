// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package actions provides the local collaborators behind each function.
//
// Home simulates the smart-home devices (lights, thermostat, TV, music and
// door locks) in memory. Ledger records alarms, reminders, messages and
// food orders in the storage database. Both return short spoken
// confirmations.
//
// # Usage
//
//	home := actions.NewHome()
//	ledger := actions.NewLedger(store)
//	exec := functions.NewExecutor(actions.Services(home, ledger, nil))
package actions
