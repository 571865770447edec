// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"fmt"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	h := New("be brief", 10)

	if h.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", h.Len())
	}
	first := h.Turns()[0]
	if first.Role != RoleSystem || first.Content != "be brief" {
		t.Errorf("first turn = %+v, want system 'be brief'", first)
	}
	if h.ID() == "" {
		t.Error("ID() should not be empty")
	}
}

func TestTrim_KeepsSystemAndMostRecent(t *testing.T) {
	h := New("system", 6)

	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			h.AppendUser(fmt.Sprintf("turn %d", i))
		} else {
			h.AppendAssistant(fmt.Sprintf("turn %d", i))
		}
	}

	turns := h.Turns()
	if len(turns) != 6 {
		t.Fatalf("Len = %d, want 6", len(turns))
	}
	if turns[0].Role != RoleSystem || turns[0].Content != "system" {
		t.Errorf("entry 0 = %+v, want original system turn", turns[0])
	}
	for i := 1; i < 6; i++ {
		want := fmt.Sprintf("turn %d", i+4)
		if turns[i].Content != want {
			t.Errorf("entry %d = %q, want %q", i, turns[i].Content, want)
		}
	}
	if turns[5].Role != RoleAssistant {
		t.Errorf("last role = %q, want assistant", turns[5].Role)
	}
}

func TestAppend_RejectsSystemTurns(t *testing.T) {
	h := New("system", 6)
	h.Append(Turn{Role: RoleSystem, Content: "sneaky"})

	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
}

func TestSetMaxHistory(t *testing.T) {
	h := New("system", 10)
	for i := 0; i < 8; i++ {
		h.AppendUser(fmt.Sprintf("u%d", i))
	}

	h.SetMaxHistory(3)
	turns := h.Turns()
	if len(turns) != 3 {
		t.Fatalf("Len = %d, want 3", len(turns))
	}
	if turns[1].Content != "u6" || turns[2].Content != "u7" {
		t.Errorf("turns = %+v", turns)
	}

	h.SetMaxHistory(0)
	if h.MaxHistory() != MinHistory {
		t.Errorf("MaxHistory() = %d, want %d", h.MaxHistory(), MinHistory)
	}
	if h.Len() != MinHistory {
		t.Errorf("Len() = %d, want %d", h.Len(), MinHistory)
	}
}

func TestReset(t *testing.T) {
	h := New("system", 10)
	oldID := h.ID()
	h.AppendUser("hi")
	h.AppendAssistant("hello")

	h.Reset()
	if h.Len() != 1 {
		t.Errorf("Len() = %d, want 1", h.Len())
	}
	if h.ID() == oldID {
		t.Error("Reset should start a new conversation id")
	}

	h.AppendUser("again")
	if h.Last().Content != "again" {
		t.Errorf("Last() = %+v", h.Last())
	}
}

func TestSetSystemPrompt(t *testing.T) {
	h := New("old", 10)
	h.AppendUser("hi")
	h.SetSystemPrompt("new")

	turns := h.Turns()
	if turns[0].Content != "new" || turns[1].Content != "hi" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestMessages_PreservesOrder(t *testing.T) {
	h := New("sys", 10)
	h.AppendUser("q")
	h.AppendAssistant("a")

	msgs := h.Messages()
	want := []struct{ role, content string }{{"system", "sys"}, {"user", "q"}, {"assistant", "a"}}
	if len(msgs) != len(want) {
		t.Fatalf("len = %d, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Role != w.role || msgs[i].Content != w.content {
			t.Errorf("msgs[%d] = %+v, want %s/%s", i, msgs[i], w.role, w.content)
		}
	}
}

func TestTurns_ReturnsCopy(t *testing.T) {
	h := New("sys", 10)
	h.AppendUser("q")

	turns := h.Turns()
	turns[1].Content = "changed"
	if h.Turns()[1].Content != "q" {
		t.Error("mutating Turns() result changed the history")
	}
}

func TestConcurrentAppend(t *testing.T) {
	h := New("sys", 5)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.AppendUser(fmt.Sprintf("%d", i))
		}(i)
	}
	wg.Wait()

	if h.Len() != 5 {
		t.Errorf("Len() = %d, want 5", h.Len())
	}
	if h.Turns()[0].Role != RoleSystem {
		t.Error("system turn lost under concurrent appends")
	}
}
