// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal contains race detection tests that span packages.
//
// Run with: go test -race -v ./internal/...
//
// The dialogue stack is driven from many goroutines the way a TUI, a
// WebSocket hub and the idle timer drive it in production.
package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/murmur/internal/actions"
	"github.com/jeranaias/murmur/internal/audio"
	"github.com/jeranaias/murmur/internal/config"
	"github.com/jeranaias/murmur/internal/dialogue"
	"github.com/jeranaias/murmur/internal/events"
	"github.com/jeranaias/murmur/internal/functions"
	"github.com/jeranaias/murmur/internal/history"
	"github.com/jeranaias/murmur/internal/lifecycle"
	"github.com/jeranaias/murmur/internal/ollama"
	"github.com/jeranaias/murmur/internal/router"
	"github.com/jeranaias/murmur/internal/session"
	"github.com/jeranaias/murmur/internal/stream"
)

// =============================================================================
// TEST CONFIGURATION
// =============================================================================

const (
	// Number of concurrent goroutines for race tests
	raceConcurrency = 16
	// Number of iterations per goroutine
	raceIterations = 20
	// Timeout for race tests
	raceTimeout = 30 * time.Second
)

// slowOllama streams a few chunks with a short delay so that stops and
// supersessions land mid-stream.
func slowOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			flusher, _ := w.(http.Flusher)
			for i := 0; i < 5; i++ {
				line, _ := json.Marshal(ollama.ChatResponse{
					Message: ollama.Message{Role: "assistant", Content: fmt.Sprintf("Part %d. ", i)},
				})
				fmt.Fprintln(w, string(line))
				if flusher != nil {
					flusher.Flush()
				}
				select {
				case <-r.Context().Done():
					return
				case <-time.After(2 * time.Millisecond):
				}
			}
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
		case "/api/generate":
			json.NewEncoder(w).Encode(ollama.GenerateResponse{
				Response: "call:control_light{action:<escape>on<escape>,room:<escape>kitchen<escape>}",
				Done:     true,
			})
		case "/api/ps":
			json.NewEncoder(w).Encode(ollama.RunningModelsResponse{
				Models: []ollama.RunningModel{{Name: "qwen3:1.7b"}},
			})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type stack struct {
	orch   *dialogue.Orchestrator
	coord  *stream.Coordinator
	hist   *history.History
	bus    *events.Bus
	models *lifecycle.Manager
	queue  *audio.Queue
}

func newStack(t *testing.T) *stack {
	t.Helper()
	srv := slowOllama(t)
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})

	hist := history.New(config.DefaultSystemPrompt, 6)
	bus := events.NewBus(0)
	queue := audio.NewQueue(audio.SpeakerFunc(func(context.Context, string) error { return nil }), true)
	models := lifecycle.New(client, lifecycle.DefaultConfig())
	coord := stream.New(client, hist, bus, queue, models, stream.Config{Model: "qwen3:1.7b"})

	orch := dialogue.New(dialogue.Deps{
		Router:      router.New(client, router.DefaultConfig()),
		Executor:    functions.NewExecutor(actions.Services(actions.NewHome(), nil, nil)),
		Coordinator: coord,
		History:     hist,
		Sink:        bus,
		Audio:       queue,
		Lifecycle:   models,
	})

	s := &stack{orch: orch, coord: coord, hist: hist, bus: bus, models: models, queue: queue}
	t.Cleanup(func() {
		bus.Close()
		orch.Close()
		queue.Close()
		models.Wait()
	})
	return s
}

// =============================================================================
// DIALOGUE CONCURRENCY TESTS
// =============================================================================

// TestConcurrency_DialogueHandlers drives every handler at once while a
// single consumer drains the bus.
func TestConcurrency_DialogueHandlers(t *testing.T) {
	s := newStack(t)

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var accepted, regressions int64
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		var latest uint64
		s.bus.Run(ctx, func(e events.Event) {
			atomic.AddInt64(&accepted, 1)
			if e.Seq != 0 && e.Seq < latest {
				atomic.AddInt64(&regressions, 1)
			}
			if e.Seq > latest {
				latest = e.Seq
			}
		})
	}()

	utterances := []string{"hi", "thanks", "turn on the kitchen lights", "hello there"}

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				if ctx.Err() != nil {
					return
				}
				switch (idx + j) % 6 {
				case 0, 1:
					s.orch.Handle(ctx, utterances[(idx+j)%len(utterances)])
				case 2:
					s.orch.Stop()
				case 3:
					s.orch.ToggleTTS()
				case 4:
					_ = s.hist.Messages()
				case 5:
					if j%5 == 0 {
						s.orch.Clear()
					}
				}
			}
		}(i)
	}
	wg.Wait()

	s.orch.Stop()
	if s.coord.State() != stream.Idle {
		t.Errorf("coordinator state = %v after Stop, want idle", s.coord.State())
	}

	turns := s.hist.Turns()
	if len(turns) > s.hist.MaxHistory() {
		t.Errorf("history has %d turns, bound is %d", len(turns), s.hist.MaxHistory())
	}
	if turns[0].Role != history.RoleSystem {
		t.Errorf("first turn role = %q, want %q", turns[0].Role, history.RoleSystem)
	}

	cancel()
	<-consumerDone
	if atomic.LoadInt64(&accepted) == 0 {
		t.Error("consumer accepted no events")
	}
	if n := atomic.LoadInt64(&regressions); n != 0 {
		t.Errorf("%d events from superseded sessions reached the consumer", n)
	}
}

// TestConcurrency_SwitchContext unloads while utterances keep arriving.
func TestConcurrency_SwitchContext(t *testing.T) {
	s := newStack(t)

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()
	go s.bus.Run(ctx, func(events.Event) {})

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency/2; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < raceIterations/2; j++ {
				s.orch.Handle(ctx, "hello")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < raceIterations/2; j++ {
				s.orch.SwitchContext()
			}
		}()
	}
	wg.Wait()
	s.models.Wait()
}

// =============================================================================
// COMPONENT CONCURRENCY TESTS
// =============================================================================

// TestConcurrency_BusFilter publishes from many sessions at once; the
// filter must never deliver a sequence lower than one already delivered.
func TestConcurrency_BusFilter(t *testing.T) {
	bus := events.NewBus(8)
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), raceTimeout)
	defer cancel()

	var mu sync.Mutex
	var delivered []uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Run(ctx, func(e events.Event) {
			mu.Lock()
			delivered = append(delivered, e.Seq)
			mu.Unlock()
		})
	}()

	var wg sync.WaitGroup
	for i := 1; i <= raceConcurrency; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				bus.Publish(events.Event{Kind: events.KindResponse, Seq: seq, Text: "x"})
			}
		}(uint64(i))
	}
	wg.Wait()

	// Seq 0 events always pass; use one as a drain marker.
	bus.Publish(events.Event{Kind: events.KindStatus, Text: "end"})
	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := len(delivered)
		last := uint64(1)
		if n > 0 {
			last = delivered[n-1]
		}
		mu.Unlock()
		if last == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("drain marker never delivered")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	var latest uint64
	for _, seq := range delivered {
		if seq == 0 {
			continue
		}
		if seq < latest {
			t.Fatalf("delivered seq %d after %d", seq, latest)
		}
		latest = seq
	}
}

// TestConcurrency_HistoryBound appends, resizes and reads concurrently.
func TestConcurrency_HistoryBound(t *testing.T) {
	h := history.New("system", 8)

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				switch j % 4 {
				case 0:
					h.AppendUser("question")
				case 1:
					h.AppendAssistant("answer")
				case 2:
					_ = h.Messages()
				case 3:
					if idx == 0 {
						h.SetMaxHistory(4 + j%6)
					}
				}
			}
		}(i)
	}
	wg.Wait()

	if h.Len() > h.MaxHistory() {
		t.Errorf("Len() = %d exceeds MaxHistory() = %d", h.Len(), h.MaxHistory())
	}
	if h.Turns()[0].Role != history.RoleSystem {
		t.Error("system turn was trimmed")
	}
}

// stubGenerator answers every classification with no call.
type stubGenerator struct{ calls int64 }

func (g *stubGenerator) Generate(context.Context, ollama.GenerateRequest) (*ollama.GenerateResponse, error) {
	atomic.AddInt64(&g.calls, 1)
	return &ollama.GenerateResponse{Response: "no call", Done: true}, nil
}

// TestConcurrency_RouterBypassReload swaps bypass phrases under load.
func TestConcurrency_RouterBypassReload(t *testing.T) {
	r := router.New(&stubGenerator{}, router.DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				d := r.Classify(context.Background(), "howdy partner how is the weather looking")
				if d.IsCall() {
					t.Error("no-call response must pass through")
				}
			}
		}()
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				if (idx+j)%2 == 0 {
					r.SetBypassPhrases([]string{"howdy"})
				} else {
					r.SetBypassPhrases(nil)
				}
			}
		}(i)
	}
	wg.Wait()
}

// TestConcurrency_SessionIdle records activity while the idle check runs.
func TestConcurrency_SessionIdle(t *testing.T) {
	mgr := session.NewManager(session.Config{IdleTimeout: time.Millisecond})
	var fired int64
	mgr.SetIdleCallback(func() { atomic.AddInt64(&fired, 1) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go mgr.Run(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < raceIterations; j++ {
				mgr.RecordActivity()
				_ = mgr.GetStatus()
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	<-ctx.Done()

	// The count is raised before the callback runs.
	if got := atomic.LoadInt64(&fired); int(got) > mgr.IdleCount() {
		t.Errorf("callback fired %d times, IdleCount() = %d", got, mgr.IdleCount())
	}
}

// TestConcurrency_ConfigClones reads and writes independent clones.
func TestConcurrency_ConfigClones(t *testing.T) {
	base := config.Default()
	base.BypassWords = []string{"hi"}

	var wg sync.WaitGroup
	for i := 0; i < raceConcurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			cfg := base.Clone()
			for j := 0; j < raceIterations; j++ {
				if err := cfg.Set("max_history", fmt.Sprint(4+j)); err != nil {
					t.Error(err)
					return
				}
				if _, err := cfg.Get("timeouts.classify"); err != nil {
					t.Error(err)
					return
				}
				cfg.BypassWords[0] = fmt.Sprint(idx)
			}
		}(i)
	}
	wg.Wait()

	if base.BypassWords[0] != "hi" {
		t.Errorf("base bypass word = %q, clones must not share slices", base.BypassWords[0])
	}
}
