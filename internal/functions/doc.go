// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package functions defines the closed set of callable actions and executes
// them against their service collaborators.
//
// Each function has a typed argument struct. Its JSON Schema is derived from
// the struct with jsonschema-go and serves two purposes: it describes the
// function to the intent classifier and it validates raw arguments before
// dispatch.
//
// # Key Types
//
//   - ID: enumerated function identifier
//   - Definition: name, description, parameters and schema of one function
//   - Executor: closed dispatch table from ID to collaborator
//   - ValidationError, ExecutionError: the two failure kinds of Execute
//
// # Date Arguments
//
// Date-like arguments accept "today", "tomorrow", YYYY-MM-DD and free-form
// expressions such as "next friday" or "Dec 25 2025". They are normalized
// to YYYY-MM-DD relative to the local date before the collaborator sees them.
package functions
