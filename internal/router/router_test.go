// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/murmur/internal/functions"
	"github.com/jeranaias/murmur/internal/ollama"
)

// ============================================================================
// TEST HELPERS
// ============================================================================

type stubGenerator struct {
	response string
	err      error
	calls    int32
	last     ollama.GenerateRequest
}

func (s *stubGenerator) Generate(_ context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error) {
	atomic.AddInt32(&s.calls, 1)
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &ollama.GenerateResponse{Response: s.response, Done: true}, nil
}

// ============================================================================
// BYPASS TESTS
// ============================================================================

func TestBypassMatch(t *testing.T) {
	b := NewBypass(nil, 3)
	tests := []struct {
		in   string
		want bool
	}{
		{"hi", true},
		{"Hello!", true},
		{"thank you so much for all the help", true},
		{"good morning to you my friend", true},
		{"", true},
		{"what is love", true},
		{"lock the front door", false},
		{"hey, turn on the lights", false},
		{"what's the weather", false},
		{"tell me about the history of rome please", false},
	}
	for _, tt := range tests {
		if got := b.Match(tt.in); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestThinkFlag(t *testing.T) {
	if !HasThinkFlag("why is the sky blue /think") {
		t.Error("HasThinkFlag should detect /think")
	}
	if HasThinkFlag("think about it") {
		t.Error("HasThinkFlag should require the slash")
	}
	if got := StripThinkFlag("/THINK why is   the sky blue"); got != "why is the sky blue" {
		t.Errorf("StripThinkFlag = %q", got)
	}
}

// ============================================================================
// PROMPT AND PARSING TESTS
// ============================================================================

func TestDeclaration(t *testing.T) {
	def, ok := functions.Get(functions.LockDoor)
	require.True(t, ok)

	want := "<start_function_declaration>declaration:lock_door{description:<escape>Controls door locks<escape>," +
		"parameters:{properties:{door:{description:<escape>which door<escape>,type:<escape>STRING<escape>}," +
		"action:{description:<escape>lock or unlock<escape>,type:<escape>STRING<escape>}}," +
		"required:[<escape>door<escape>,<escape>action<escape>],type:<escape>OBJECT<escape>}}" +
		"<end_function_declaration>"
	assert.Equal(t, want, Declaration(def))
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(functions.Definitions(), "  Lock the front door ")
	assert.True(t, strings.HasPrefix(p, "<start_of_turn>developer You are a model that can do function calling"))
	assert.Contains(t, p, "<start_of_turn>user Lock the front door<end_of_turn>\n")
	assert.True(t, strings.HasSuffix(p, "<start_of_turn>model"))
	assert.Equal(t, 10, strings.Count(p, "<start_function_declaration>"))
}

func TestParseCall(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		wantOK   bool
		wantName string
		wantArgs map[string]any
	}{
		{
			name:     "escaped strings",
			output:   "<start_function_call>call:lock_door{action:<escape>lock<escape>,door:<escape>front<escape>}<end_function_call>",
			wantOK:   true,
			wantName: "lock_door",
			wantArgs: map[string]any{"action": "lock", "door": "front"},
		},
		{
			name:     "number and punctuation inside value",
			output:   "call:set_thermostat{temperature:72,unit:<escape>fahrenheit, please: now<escape>}",
			wantOK:   true,
			wantName: "set_thermostat",
			wantArgs: map[string]any{"temperature": float64(72), "unit": "fahrenheit, please: now"},
		},
		{
			name:     "truncated body",
			output:   "call:play_music{query:<escape>jazz<escape>",
			wantOK:   true,
			wantName: "play_music",
			wantArgs: map[string]any{"query": "jazz"},
		},
		{
			name:     "no arguments",
			output:   "call:control_tv",
			wantOK:   true,
			wantName: "control_tv",
			wantArgs: map[string]any{},
		},
		{
			name:   "plain text",
			output: "Sure, I can help with that.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args, ok, err := ParseCall(tt.output)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

// ============================================================================
// CLASSIFY TESTS
// ============================================================================

func TestClassifyCall(t *testing.T) {
	gen := &stubGenerator{response: "call:lock_door{door:<escape>front<escape>,action:<escape>lock<escape>}"}
	r := New(gen, DefaultConfig())

	d := r.Classify(context.Background(), "Lock the front door")
	require.True(t, d.IsCall())
	assert.Equal(t, "lock_door", d.Name)
	assert.Equal(t, map[string]any{"door": "front", "action": "lock"}, d.Arguments)

	assert.Equal(t, DefaultModel, gen.last.Model)
	assert.True(t, gen.last.Raw)
	require.NotNil(t, gen.last.Options)
	require.NotNil(t, gen.last.Options.Temperature)
	assert.Equal(t, 0.0, *gen.last.Options.Temperature)
	assert.Equal(t, 42, gen.last.Options.Seed)
	assert.Equal(t, 150, gen.last.Options.NumPredict)
	assert.Equal(t, StopSequences, gen.last.Options.Stop)
}

func TestClassifyPassthrough(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		err       error
		utterance string
		thinking  bool
		calls     int32
	}{
		{"bypass", "call:lock_door{}", nil, "hello there", false, 0},
		{"think flag", "call:lock_door{}", nil, "lock the door /think", true, 0},
		{"no marker", "I am not sure what you mean.", nil, "explain quantum tunneling to a child", false, 1},
		{"unknown function", "call:launch_rocket{target:<escape>moon<escape>}", nil, "launch a rocket at the moon", false, 1},
		{"backend failure", "", errors.New("connection refused"), "turn off the kitchen lights", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &stubGenerator{response: tt.response, err: tt.err}
			r := New(gen, DefaultConfig())

			var failures int
			r.OnError = func(*ClassificationError) { failures++ }

			d := r.Classify(context.Background(), tt.utterance)
			assert.Equal(t, KindPassthrough, d.Kind)
			assert.Equal(t, tt.thinking, d.Thinking)
			assert.Equal(t, tt.calls, atomic.LoadInt32(&gen.calls))
			if tt.err != nil {
				assert.Equal(t, 1, failures)
			}
		})
	}
}

func TestClassifyFailsOpenOverHTTP(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model crashed"})
	}))
	defer server.Close()

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: server.URL})
	r := New(client, Config{Timeout: time.Second})

	d := r.Classify(context.Background(), "set an alarm for seven")
	assert.Equal(t, KindPassthrough, d.Kind)
	assert.False(t, d.Thinking)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClassifyOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollama.GenerateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if r.URL.Path != "/api/generate" || req.Stream || !req.Raw {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(ollama.GenerateResponse{
			Model:    req.Model,
			Response: "<start_function_call>call:set_alarm{time:<escape>7 AM<escape>,date:<escape>tomorrow<escape>}<end_function_call>",
			Done:     true,
		})
	}))
	defer server.Close()

	r := New(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: server.URL}), DefaultConfig())
	d := r.Classify(context.Background(), "wake me up at 7 tomorrow")
	require.True(t, d.IsCall(), d.String())
	assert.Equal(t, "set_alarm", d.Name)
	assert.Equal(t, "7 AM", d.Arguments["time"])
	assert.Equal(t, "tomorrow", d.Arguments["date"])
}

func TestSetBypassPhrases(t *testing.T) {
	gen := &stubGenerator{response: "no call"}
	r := New(gen, DefaultConfig())

	r.Classify(context.Background(), "howdy partner how is it going")
	assert.Equal(t, int32(1), atomic.LoadInt32(&gen.calls))

	r.SetBypassPhrases([]string{"howdy"})
	d := r.Classify(context.Background(), "howdy partner how is it going")
	assert.Equal(t, "bypass", d.Reason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gen.calls))

	r.SetBypassPhrases(nil)
	d = r.Classify(context.Background(), "good morning to everyone in the house")
	assert.Equal(t, "bypass", d.Reason)
}
