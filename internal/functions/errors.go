// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package functions

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownFunction is wrapped by the ValidationError returned for a
	// name outside the closed set.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrNotConfigured is wrapped by the ExecutionError returned when the
	// collaborator for a function was never supplied.
	ErrNotConfigured = errors.New("service not configured")
)

// ValidationError reports arguments that cannot be dispatched.
type ValidationError struct {
	Function string
	Field    string
	Message  string
	Cause    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid %s: %s", e.Function, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ExecutionError reports a collaborator failure.
type ExecutionError struct {
	Function string
	Cause    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Function, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsExecution reports whether err is an ExecutionError.
func IsExecution(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
