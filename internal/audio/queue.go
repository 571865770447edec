// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/murmur/internal/logging"
)

// =============================================================================
// QUEUE
// =============================================================================

// Queue plays sentences one at a time in arrival order.
type Queue struct {
	speaker Speaker
	logger  zerolog.Logger

	mu        sync.Mutex
	enabled   bool
	pending   []string
	cancelCur context.CancelFunc
	closed    bool

	wake chan struct{}
	done chan struct{}

	// OnSpoken, if set, is called after each sentence finishes playing.
	OnSpoken func(text string)
}

// NewQueue creates a queue and starts its playback worker.
func NewQueue(speaker Speaker, enabled bool) *Queue {
	q := &Queue{
		speaker: speaker,
		logger:  logging.For("audio"),
		enabled: enabled,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// QueueSentence enqueues one sentence and returns immediately. The text
// is cleaned for speech; sentences that clean to nothing are dropped, as
// is everything while playback is disabled.
func (q *Queue) QueueSentence(text string) {
	text = CleanForSpeech(text)
	if text == "" {
		return
	}

	q.mu.Lock()
	if !q.enabled || q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, text)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Toggle enables or disables playback and returns the resulting state.
// Disabling drops pending sentences and interrupts the current one.
func (q *Queue) Toggle(enabled bool) bool {
	q.mu.Lock()
	q.enabled = enabled
	q.mu.Unlock()

	if !enabled {
		q.Clear()
	}
	q.logger.Debug().Bool("enabled", enabled).Msg("playback toggled")
	return enabled
}

// Enabled reports whether playback is on.
func (q *Queue) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// Pending returns the number of sentences waiting to be spoken.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear drops pending sentences and interrupts the one being spoken.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.pending = nil
	cancel := q.cancelCur
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Close stops the worker after interrupting playback and waits for it.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Clear()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

// =============================================================================
// WORKER
// =============================================================================

func (q *Queue) run() {
	defer close(q.done)
	for {
		text, ctx, cancel, ok := q.next()
		if !ok {
			return
		}
		if text == "" {
			<-q.wake
			continue
		}

		err := q.speaker.Speak(ctx, text)
		cancel()

		q.mu.Lock()
		q.cancelCur = nil
		q.mu.Unlock()

		switch {
		case err == nil:
			if q.OnSpoken != nil {
				q.OnSpoken(text)
			}
		case errors.Is(err, context.Canceled):
			q.logger.Debug().Msg("playback interrupted")
		default:
			q.logger.Warn().Err(err).Msg("speech failed")
		}
	}
}

// next pops the head of the queue. An empty text means wait for more.
func (q *Queue) next() (string, context.Context, context.CancelFunc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", nil, nil, false
	}
	if len(q.pending) == 0 {
		return "", nil, nil, true
	}
	text := q.pending[0]
	q.pending = q.pending[1:]

	ctx, cancel := context.WithCancel(context.Background())
	q.cancelCur = cancel
	return text, ctx, cancel, true
}
