package display

import (
	"sync"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/store"
)

// DeltaKind tags one increment of the rendered view.
type DeltaKind string

const (
	DeltaSet     DeltaKind = "set"     // full view replacement
	DeltaAdded   DeltaKind = "added"   // new trailing messages
	DeltaUpdated DeltaKind = "updated" // last known message grew
)

// Delta is one update clients apply to their local view.
type Delta struct {
	Kind     DeltaKind
	Messages []Message // set / added
	Message  *Message  // updated
}

// Pipeline renders raw logs and emits minimal deltas by remembering the
// previously rendered view per chat.
type Pipeline struct {
	mu   sync.Mutex
	prev map[string][]Message
	cats adapter.Categories
}

// NewPipeline creates a pipeline using the given tool categories. cats may
// be nil to disable collapsing.
func NewPipeline(cats adapter.Categories) *Pipeline {
	return &Pipeline{
		prev: make(map[string][]Message),
		cats: cats,
	}
}

// Render recomputes the chat's view and returns the deltas against the
// last render. The first render for a chat always yields a full set; the
// unchanged prefix is never resent after that.
func (p *Pipeline) Render(chatID string, raw []store.ChatMessage) []Delta {
	next := Prepare(raw, p.cats)

	p.mu.Lock()
	prev, known := p.prev[chatID]
	p.prev[chatID] = next
	p.mu.Unlock()

	if !known {
		return []Delta{{Kind: DeltaSet, Messages: next}}
	}

	var deltas []Delta
	if n := len(prev); n > 0 && len(next) >= n {
		if contentLen(next[n-1]) != contentLen(prev[n-1]) {
			upd := next[n-1]
			deltas = append(deltas, Delta{Kind: DeltaUpdated, Message: &upd})
		}
	}
	if len(next) > len(prev) {
		deltas = append(deltas, Delta{Kind: DeltaAdded, Messages: next[len(prev):]})
	}
	return deltas
}

// Forget drops the chat's remembered view so the next render emits a full
// set. Called when a chat's messages are cleared or the chat is torn down.
func (p *Pipeline) Forget(chatID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.prev, chatID)
}

// contentLen approximates a message's rendered size, used to detect
// in-place growth of the last message.
func contentLen(m Message) int {
	n := 0
	for _, b := range m.Blocks {
		n += blockLen(b)
	}
	return n
}

func blockLen(b Block) int {
	n := len(b.Text) + len(b.Result) + b.Count + 1
	for _, c := range b.Children {
		n += blockLen(c)
	}
	return n
}
