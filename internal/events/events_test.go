// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindThought, "thought"},
		{KindResponse, "response"},
		{KindDone, "done"},
		{KindError, "error"},
		{Kind(42), "Kind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
	if !KindCancelled.Terminal() || KindResponse.Terminal() {
		t.Error("Terminal() mismatch")
	}
}

func TestFilterDropsStaleSessions(t *testing.T) {
	var f Filter
	in := []Event{
		{Kind: KindStart, Seq: 1},
		{Kind: KindResponse, Seq: 1, Text: "a"},
		{Kind: KindStart, Seq: 2},
		{Kind: KindResponse, Seq: 1, Text: "late"},
		{Kind: KindMessage, Seq: 0, Text: "function result"},
		{Kind: KindResponse, Seq: 2, Text: "b"},
	}
	var got []string
	for _, e := range in {
		if f.Accept(e) {
			got = append(got, e.Kind.String()+":"+e.Text)
		}
	}
	want := []string{"start:", "response:a", "start:", "message:function result", "response:b"}
	if len(got) != len(want) {
		t.Fatalf("accepted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("accepted[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if f.Dropped() != 1 || f.Latest() != 2 {
		t.Errorf("Dropped() = %d, Latest() = %d, want 1, 2", f.Dropped(), f.Latest())
	}
}

func TestBusPreservesOrder(t *testing.T) {
	bus := NewBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 100
	received := make(chan int, n)
	go bus.Run(ctx, func(e Event) {
		received <- int(e.Seq)
	})

	for i := 1; i <= n; i++ {
		bus.Publish(Event{Kind: KindResponse, Seq: uint64(i)})
	}
	for i := 1; i <= n; i++ {
		select {
		case got := <-received:
			if got != i {
				t.Fatalf("event %d arrived as %d", i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBusCloseUnblocksPublishers(t *testing.T) {
	bus := NewBus(1)
	bus.Publish(Event{Kind: KindStatus})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Publish(Event{Kind: KindStatus})
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish did not return after Close")
	}

	bus.Publish(Event{Kind: KindStatus})
}

func TestSinkFunc(t *testing.T) {
	var got Event
	var s Sink = SinkFunc(func(e Event) { got = e })
	s.Publish(Event{Kind: KindMessage, Text: "hi"})
	if got.Text != "hi" {
		t.Errorf("SinkFunc did not forward event, got %+v", got)
	}
}
