// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Kind is the type of a UI event.
type Kind int

const (
	// KindStart marks the beginning of a stream session.
	KindStart Kind = iota
	// KindThought carries the full thought buffer so far.
	KindThought
	// KindResponse carries the full response buffer so far.
	KindResponse
	// KindMessage carries a complete assistant message, such as a function result.
	KindMessage
	// KindDone marks natural completion. Text is the final response.
	KindDone
	// KindCancelled marks a stopped session. Text is the partial response.
	KindCancelled
	// KindError marks a failure. Text is the partial response, if any.
	KindError
	// KindStatus carries informational text such as "TTS enabled".
	KindStatus
)

var kindNames = [...]string{"start", "thought", "response", "message", "done", "cancelled", "error", "status"}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Terminal reports whether the kind ends a session.
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindCancelled || k == KindError
}

// Event is one UI update.
type Event struct {
	Kind Kind
	Seq  uint64
	Text string
	Err  error
	At   time.Time
}

// Sink receives events. Implementations must be safe to call from any
// goroutine.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// =============================================================================
// BUS
// =============================================================================

// DefaultBuffer is the bus channel capacity.
const DefaultBuffer = 256

// Bus is an ordered, buffered event channel with one consumer.
type Bus struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewBus creates a bus. A non-positive buffer uses DefaultBuffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Publish enqueues an event, blocking while the buffer is full. Events
// published after Close are discarded.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.ch <- e:
	case <-b.done:
	}
}

// Events returns the receive side of the bus.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Done is closed when the bus is closed.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Close stops accepting events. The channel itself is never closed;
// consumers select on Done.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Run drains the bus through a Filter and calls fn for each accepted
// event until ctx is cancelled or the bus is closed. It must be the only
// consumer.
func (b *Bus) Run(ctx context.Context, fn func(Event)) {
	var f Filter
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case e := <-b.ch:
			if f.Accept(e) {
				fn(e)
			}
		}
	}
}

// =============================================================================
// FILTER
// =============================================================================

// Filter drops events from sessions older than the latest one seen.
// Not safe for concurrent use; it belongs to the single consumer.
type Filter struct {
	latest  uint64
	dropped int
}

// Accept reports whether e should be delivered.
func (f *Filter) Accept(e Event) bool {
	if e.Seq == 0 {
		return true
	}
	if e.Seq < f.latest {
		f.dropped++
		return false
	}
	f.latest = e.Seq
	return true
}

// Latest returns the highest session sequence seen.
func (f *Filter) Latest() uint64 {
	return f.latest
}

// Dropped returns the number of stale events dropped.
func (f *Filter) Dropped() int {
	return f.dropped
}
