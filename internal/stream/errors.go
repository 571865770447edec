// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("coordinator closed")

// TransportError reports a stream that failed mid-generation. Partial is
// the response accumulated before the failure.
type TransportError struct {
	Seq     uint64
	Partial string
	Cause   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream %d failed after %d bytes: %v", e.Seq, len(e.Partial), e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}
