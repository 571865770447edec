// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/murmur/internal/dialogue"
	"github.com/jeranaias/murmur/internal/events"
	"github.com/jeranaias/murmur/internal/ollama"
	"github.com/jeranaias/murmur/internal/router"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeController struct {
	mu         sync.Mutex
	utterances []string
	stops      int
	tts        bool
	outcome    dialogue.Outcome
}

func (f *fakeController) Handle(ctx context.Context, utterance string) (dialogue.Outcome, error) {
	if strings.TrimSpace(utterance) == "" {
		return dialogue.Outcome{}, dialogue.ErrEmptyUtterance
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, utterance)
	return f.outcome, nil
}

func (f *fakeController) Stop()          { f.mu.Lock(); f.stops++; f.mu.Unlock() }
func (f *fakeController) Clear()         {}
func (f *fakeController) SwitchContext() {}
func (f *fakeController) TTSEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tts
}
func (f *fakeController) ToggleTTS() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tts = !f.tts
	return f.tts
}

func (f *fakeController) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.utterances...)
}

type fakeBackend struct {
	err    error
	models []ollama.RunningModel
}

func (b *fakeBackend) CheckRunning(ctx context.Context) error { return b.err }
func (b *fakeBackend) ListRunning(ctx context.Context) ([]ollama.RunningModel, error) {
	return b.models, b.err
}

type harness struct {
	ctl *fakeController
	bus *events.Bus
	srv *Server
	ts  *httptest.Server
}

func newHarness(t *testing.T, cfg Config, backend Backend) *harness {
	t.Helper()
	ctl := &fakeController{}
	bus := events.NewBus(64)
	srv := New(ctl, backend, bus, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		bus.Close()
		srv.Shutdown(context.Background())
		ts.Close()
	})
	return &harness{ctl: ctl, bus: bus, srv: srv, ts: ts}
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello := readMessage(t, conn)
	require.Equal(t, MsgHello, hello.Type)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// =============================================================================
// WEBSOCKET TESTS
// =============================================================================

func TestWebSocket_BroadcastsEventsInOrder(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conn := h.dial(t, "")

	h.bus.Publish(events.Event{Kind: events.KindStart, Seq: 1})
	h.bus.Publish(events.Event{Kind: events.KindResponse, Seq: 1, Text: "Hello"})
	h.bus.Publish(events.Event{Kind: events.KindDone, Seq: 1, Text: "Hello world."})

	want := []struct {
		typ, text string
	}{
		{"start", ""},
		{"response", "Hello"},
		{"done", "Hello world."},
	}
	for _, w := range want {
		msg := readMessage(t, conn)
		assert.Equal(t, w.typ, msg.Type)
		assert.Equal(t, w.text, msg.Text)
		assert.Equal(t, uint64(1), msg.Seq)
	}
}

func TestWebSocket_StaleEventsFiltered(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conn := h.dial(t, "")

	h.bus.Publish(events.Event{Kind: events.KindStart, Seq: 2})
	h.bus.Publish(events.Event{Kind: events.KindResponse, Seq: 1, Text: "stale"})
	h.bus.Publish(events.Event{Kind: events.KindMessage, Text: "The front door is now locked."})

	assert.Equal(t, "start", readMessage(t, conn).Type)
	msg := readMessage(t, conn)
	assert.Equal(t, "message", msg.Type)
	assert.Equal(t, "The front door is now locked.", msg.Text)
}

func TestWebSocket_ErrorEventCarriesCause(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conn := h.dial(t, "")

	h.bus.Publish(events.Event{Kind: events.KindError, Seq: 1, Text: "Half", Err: errors.New("connection reset")})
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "connection reset", msg.Error)
}

func TestWebSocket_UtteranceIntake(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgUtterance, Text: "Lock the front door"}))
	require.Eventually(t, func() bool {
		got := h.ctl.got()
		return len(got) == 1 && got[0] == "Lock the front door"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgStop}))
	require.Eventually(t, func() bool {
		h.ctl.mu.Lock()
		defer h.ctl.mu.Unlock()
		return h.ctl.stops == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_RejectsBadMessages(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "dance"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MsgError, msg.Type)
	assert.Contains(t, msg.Error, "dance")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MsgUtterance, Text: "  "}))
	msg = readMessage(t, conn)
	assert.Equal(t, MsgError, msg.Type)
	assert.Equal(t, "utterance is empty", msg.Error)
}

func TestWebSocket_ClientCount(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	conn := h.dial(t, "")
	assert.Equal(t, 1, h.srv.Hub().Clients())

	conn.Close()
	require.Eventually(t, func() bool { return h.srv.Hub().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// =============================================================================
// HTTP TESTS
// =============================================================================

func TestHTTP_Utterance(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.ctl.outcome = dialogue.Outcome{
		Decision: router.Call("lock_door", map[string]any{"door": "front", "action": "lock"}),
		Result:   "The front door is now locked.",
	}

	resp, err := http.Post(h.ts.URL+"/utterance", "application/json", strings.NewReader(`{"text":"Lock the front door"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body utteranceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "call", body.Decision)
	assert.Equal(t, "lock_door", body.Function)
	assert.Equal(t, "The front door is now locked.", body.Result)
	assert.Equal(t, int64(1), h.srv.stats.Snapshot().Calls)
}

func TestHTTP_UtteranceValidation(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{"text":`, http.StatusBadRequest},
		{"empty text", `{"text":"   "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(h.ts.URL+"/utterance", "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestHTTP_Health(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		want    int
		status  string
	}{
		{"up", &fakeBackend{}, http.StatusOK, "ok"},
		{"down", &fakeBackend{err: ollama.ErrNotRunning}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, tt.backend)
			resp, err := http.Get(h.ts.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, tt.status, body["status"])
		})
	}
}

func TestHTTP_Models(t *testing.T) {
	backend := &fakeBackend{models: []ollama.RunningModel{{Name: "functiongemma:270m"}}}
	h := newHarness(t, Config{}, backend)

	resp, err := http.Get(h.ts.URL + "/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Models []ollama.RunningModel `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Models, 1)
	assert.Equal(t, "functiongemma:270m", body.Models[0].Name)
}

func TestHTTP_ToggleTTS(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	resp, err := http.Post(h.ts.URL+"/tts", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["enabled"])
}

func TestHTTP_Auth(t *testing.T) {
	h := newHarness(t, Config{Auth: &AuthConfig{Enabled: true, BearerToken: "s3cret"}}, &fakeBackend{})

	resp, err := http.Get(h.ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, h.ts.URL+"/health", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// WebSocket clients pass the token as a query parameter.
	h.dial(t, "?token=s3cret")

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws?token=wrong"
	_, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, wsResp)
	assert.Equal(t, http.StatusUnauthorized, wsResp.StatusCode)
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestValidateBearerToken(t *testing.T) {
	tests := []struct {
		token, expected string
		want            bool
	}{
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"", "abc", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := ValidateBearerToken(tt.token, tt.expected); got != tt.want {
			t.Errorf("ValidateBearerToken(%q, %q) = %v, want %v", tt.token, tt.expected, got, tt.want)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "limits are per address")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	handler := RecoveryMiddleware(h.srv.log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	handler := Chain(mw("a"), mw("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "final")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "final"}, order)
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.5:54321"
	if got := GetClientIP(r); got != "192.168.1.5" {
		t.Errorf("GetClientIP() = %q, want %q", got, "192.168.1.5")
	}
}
