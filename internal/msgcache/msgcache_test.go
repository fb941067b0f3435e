package msgcache

import (
	"fmt"
	"testing"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/store"
)

func msg(text string) store.ChatMessage {
	return store.ChatMessage{
		Type:   store.MessageUser,
		Blocks: []adapter.ContentBlock{{Type: "text", Text: text}},
	}
}

func TestPerChatCap(t *testing.T) {
	c := New(2000, 50)
	for i := 0; i < 2100; i++ {
		c.Append("c1", msg(fmt.Sprintf("m%d", i)))
	}
	if got := c.Len("c1"); got != 2000 {
		t.Fatalf("Len = %d, want 2000", got)
	}
	msgs := c.Get("c1")
	if first := msgs[0].Text(); first != "m100" {
		t.Errorf("oldest retained = %q, want m100", first)
	}
	if last := msgs[len(msgs)-1].Text(); last != "m2099" {
		t.Errorf("newest retained = %q, want m2099", last)
	}
}

func TestChatEvictionByInsertionOrder(t *testing.T) {
	c := New(10, 3)
	for _, id := range []string{"a", "b", "c"} {
		c.Append(id, msg("hi"))
	}
	// Appending to an existing chat does not refresh its position.
	c.Append("a", msg("again"))
	c.Append("d", msg("new"))

	if c.Has("a") {
		t.Error("oldest-inserted chat should have been evicted")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !c.Has(id) {
			t.Errorf("chat %q unexpectedly evicted", id)
		}
	}
}

func TestClearAndReplace(t *testing.T) {
	c := New(3, 50)
	c.Append("c1", msg("one"))
	c.Clear("c1")
	if c.Has("c1") {
		t.Error("Clear should remove the window")
	}

	c.Replace("c1", []store.ChatMessage{msg("a"), msg("b"), msg("c"), msg("d")})
	if got := c.Len("c1"); got != 3 {
		t.Fatalf("Len after Replace = %d, want 3", got)
	}
	if first := c.Get("c1")[0].Text(); first != "b" {
		t.Errorf("Replace kept %q first, want b", first)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(10, 10)
	c.Append("c1", msg("original"))
	got := c.Get("c1")
	got[0].Type = store.MessageSystem
	if c.Get("c1")[0].Type != store.MessageUser {
		t.Error("mutating the returned slice must not affect the cache")
	}
}
