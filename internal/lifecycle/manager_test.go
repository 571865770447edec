// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/murmur/internal/ollama"
)

// =============================================================================
// FAKE BACKEND
// =============================================================================

type fakeBackend struct {
	mu        sync.Mutex
	running   []ollama.RunningModel
	psErr     error
	failOn    map[string]bool
	preloads  []string
	unloads   []string
	inFlight  int32
	maxFlight int32
	gate      chan struct{}
}

func (f *fakeBackend) Preload(ctx context.Context, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preloads = append(f.preloads, model)
	if f.failOn[model] {
		return errors.New("preload refused")
	}
	return nil
}

func (f *fakeBackend) Unload(ctx context.Context, model string) error {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxFlight, max, n) {
			break
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloads = append(f.unloads, model)
	if f.failOn[model] {
		return errors.New("unload refused")
	}
	return nil
}

func (f *fakeBackend) ListRunning(ctx context.Context) ([]ollama.RunningModel, error) {
	return f.running, f.psErr
}

func (f *fakeBackend) unloaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unloads...)
}

// =============================================================================
// TESTS
// =============================================================================

func TestEnsureLoaded_PreloadsOnce(t *testing.T) {
	backend := &fakeBackend{}
	mgr := New(backend, DefaultConfig())

	mgr.EnsureLoaded("qwen3:4b")
	mgr.Wait()
	mgr.EnsureLoaded("qwen3:4b")
	mgr.Wait()

	assert.Equal(t, []string{"qwen3:4b"}, backend.preloads)
	assert.True(t, mgr.Resident("qwen3:4b"))

	recs := mgr.Records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].LastUsed.IsZero())
}

func TestEnsureLoaded_StaleRecordPreloadsAgain(t *testing.T) {
	backend := &fakeBackend{}
	mgr := New(backend, Config{KeepAlive: time.Minute})

	now := time.Now()
	mgr.now = func() time.Time { return now }
	mgr.EnsureLoaded("m")
	mgr.Wait()

	now = now.Add(2 * time.Minute)
	mgr.EnsureLoaded("m")
	mgr.Wait()

	assert.Len(t, backend.preloads, 2)
}

func TestEnsureLoaded_FailureIsLoggedOnly(t *testing.T) {
	backend := &fakeBackend{failOn: map[string]bool{"bad": true}}
	mgr := New(backend, DefaultConfig())

	var got *LifecycleError
	var mu sync.Mutex
	mgr.OnError = func(err *LifecycleError) {
		mu.Lock()
		got = err
		mu.Unlock()
	}

	mgr.EnsureLoaded("bad")
	mgr.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "preload", got.Op)
	assert.Equal(t, "bad", got.Model)
	assert.False(t, mgr.Resident("bad"))
}

func TestEnsureLoaded_Throttled(t *testing.T) {
	backend := &fakeBackend{}
	mgr := New(backend, Config{PreloadInterval: time.Hour, PreloadBurst: 1})

	mgr.EnsureLoaded("a")
	mgr.EnsureLoaded("b")
	mgr.Wait()

	assert.Equal(t, []string{"a"}, backend.preloads)
	assert.Len(t, mgr.Records(), 2, "throttled models are still tracked")
}

func TestUnloadAll_OneRequestPerModelConcurrently(t *testing.T) {
	backend := &fakeBackend{
		running: []ollama.RunningModel{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		failOn:  map[string]bool{"b": true},
		gate:    make(chan struct{}),
	}
	mgr := New(backend, DefaultConfig())

	var failures int32
	mgr.OnError = func(*LifecycleError) { atomic.AddInt32(&failures, 1) }

	start := time.Now()
	mgr.UnloadAll()
	assert.Less(t, time.Since(start), 100*time.Millisecond, "UnloadAll must not block")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&backend.inFlight) == 3
	}, time.Second, 5*time.Millisecond, "unloads should run concurrently")
	close(backend.gate)
	mgr.Wait()

	assert.ElementsMatch(t, []string{"a", "b", "c"}, backend.unloaded())
	assert.Equal(t, int32(3), atomic.LoadInt32(&backend.maxFlight))
	assert.Equal(t, int32(1), atomic.LoadInt32(&failures))
}

func TestUnloadAll_ListFailure(t *testing.T) {
	backend := &fakeBackend{psErr: errors.New("connection refused")}
	mgr := New(backend, DefaultConfig())

	var got *LifecycleError
	mgr.OnError = func(err *LifecycleError) { got = err }

	mgr.UnloadAll()
	mgr.Wait()

	require.NotNil(t, got)
	assert.Empty(t, backend.unloaded())
	assert.Contains(t, got.Error(), "list running models")
}

func TestUnloadAll_ClearsResidency(t *testing.T) {
	backend := &fakeBackend{running: []ollama.RunningModel{{Name: "m"}}}
	mgr := New(backend, DefaultConfig())

	mgr.EnsureLoaded("m")
	mgr.Wait()
	require.True(t, mgr.Resident("m"))

	mgr.UnloadAll()
	mgr.Wait()
	assert.False(t, mgr.Resident("m"))
}

func TestMarkIdle(t *testing.T) {
	backend := &fakeBackend{}
	mgr := New(backend, DefaultConfig())

	mgr.MarkIdle("m")
	mgr.Wait()
	assert.Equal(t, []string{"m"}, backend.unloaded())
}

func TestRefresh(t *testing.T) {
	backend := &fakeBackend{running: []ollama.RunningModel{{Name: "x"}}}
	mgr := New(backend, DefaultConfig())

	mgr.EnsureLoaded("y")
	mgr.Wait()
	require.True(t, mgr.Resident("y"))

	require.NoError(t, mgr.Refresh(context.Background()))
	assert.True(t, mgr.Resident("x"))
	assert.False(t, mgr.Resident("y"))

	backend.psErr = errors.New("down")
	var lerr *LifecycleError
	assert.ErrorAs(t, mgr.Refresh(context.Background()), &lerr)
}
