package display

import (
	"testing"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/store"
)

func userMsg(id, text string) store.ChatMessage {
	return store.ChatMessage{
		ID:     id,
		Type:   store.MessageUser,
		Blocks: []adapter.ContentBlock{{Type: "text", Text: text}},
	}
}

func assistantText(id, text string) store.ChatMessage {
	return store.ChatMessage{
		ID:     id,
		Type:   store.MessageAssistant,
		Blocks: []adapter.ContentBlock{{Type: "text", Text: text}},
	}
}

func assistantTool(id, toolUseID, name string) store.ChatMessage {
	return store.ChatMessage{
		ID:   id,
		Type: store.MessageAssistant,
		Blocks: []adapter.ContentBlock{
			{Type: "tool_use", ID: toolUseID, Name: name, Input: []byte(`{"q":1}`)},
		},
	}
}

func toolResultMsg(id, toolUseID, content string, isError bool) store.ChatMessage {
	return store.ChatMessage{
		ID:   id,
		Type: store.MessageUser,
		Blocks: []adapter.ContentBlock{
			{Type: "tool_result", ToolUseID: toolUseID, Content: adapter.FlexContent(content), IsError: isError},
		},
	}
}

func TestPrepareFiltersControlMessages(t *testing.T) {
	raw := []store.ChatMessage{
		{ID: "cmd", Type: store.MessageCommand, Blocks: []adapter.ContentBlock{{Type: "text", Text: "/compact"}}},
		userMsg("u1", "hello"),
	}
	got := Prepare(raw, nil)
	if len(got) != 1 || got[0].ID != "u1" {
		t.Fatalf("got %d messages, want only the user message", len(got))
	}
}

func TestPrepareMergesTurnAndAttachesResults(t *testing.T) {
	raw := []store.ChatMessage{
		userMsg("u1", "list files"),
		assistantText("a1", "Looking now."),
		assistantTool("a2", "tu-1", "Bash"),
		toolResultMsg("r1", "tu-1", "file.go", false),
		assistantText("a3", "Found one file."),
		userMsg("u2", "thanks"),
	}
	got := Prepare(raw, nil)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3 (user, turn, user)", len(got))
	}
	turn := got[1]
	if turn.Type != TypeAssistant || len(turn.Blocks) != 3 {
		t.Fatalf("turn = %+v", turn)
	}
	tool := turn.Blocks[1]
	if tool.Type != BlockToolUse || !tool.HasResult || tool.Result != "file.go" {
		t.Errorf("tool block = %+v, want attached result", tool)
	}
}

func TestPrepareDurationOnLatestTurn(t *testing.T) {
	raw := []store.ChatMessage{
		assistantText("a1", "done"),
		{ID: "res", Type: store.MessageResult, Meta: map[string]any{"duration_ms": float64(4200)}},
	}
	got := Prepare(raw, nil)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1 (no standalone result entry)", len(got))
	}
	if got[0].DurationMS != 4200 {
		t.Errorf("DurationMS = %d, want 4200", got[0].DurationMS)
	}
}

func TestPrepareDedupesToolUseIDs(t *testing.T) {
	raw := []store.ChatMessage{
		assistantTool("a1", "tu-1", "Bash"),
		// Replayed on reconnect.
		assistantTool("a2", "tu-1", "Bash"),
	}
	got := Prepare(raw, nil)
	if len(got) != 1 || len(got[0].Blocks) != 1 {
		t.Fatalf("got %+v, want one turn with one tool block", got)
	}
}

func testCategories() adapter.Categories {
	return adapter.Categories{
		"Read":      adapter.CategoryExplore,
		"Glob":      adapter.CategoryExplore,
		"TodoWrite": adapter.CategoryHidden,
		"Progress":  adapter.CategoryProgress,
		"Task":      adapter.CategorySubagent,
	}
}

func TestCollapseExploreRun(t *testing.T) {
	raw := []store.ChatMessage{
		assistantTool("a1", "tu-1", "Read"),
		assistantTool("a2", "tu-2", "Glob"),
		assistantTool("a3", "tu-3", "Read"),
		assistantText("a4", "summary"),
	}
	got := Prepare(raw, testCategories())
	blocks := got[0].Blocks
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v, want group + text", blocks)
	}
	if blocks[0].Type != BlockGroup || blocks[0].Count != 3 || len(blocks[0].Children) != 3 {
		t.Errorf("group = %+v", blocks[0])
	}
}

func TestCollapseSingleExploreStaysInline(t *testing.T) {
	raw := []store.ChatMessage{
		assistantTool("a1", "tu-1", "Read"),
		assistantText("a2", "ok"),
	}
	got := Prepare(raw, testCategories())
	if blocks := got[0].Blocks; len(blocks) != 2 || blocks[0].Type != BlockToolUse {
		t.Fatalf("blocks = %+v, want inline tool + text", blocks)
	}
}

func TestCollapseHiddenAndProgress(t *testing.T) {
	raw := []store.ChatMessage{
		assistantTool("a1", "tu-1", "TodoWrite"),
		assistantTool("a2", "tu-2", "Progress"),
		assistantTool("a3", "tu-3", "Bash"),
		assistantTool("a4", "tu-4", "Progress"),
	}
	got := Prepare(raw, testCategories())
	blocks := got[0].Blocks
	if len(blocks) != 2 {
		t.Fatalf("blocks = %+v, want progress + tool", blocks)
	}
	// Progress indicator sits at the position of the first progress call
	// and accumulates all of them.
	if blocks[0].Type != BlockProgress || blocks[0].Count != 2 {
		t.Errorf("progress = %+v", blocks[0])
	}
	if blocks[1].ToolName != "Bash" {
		t.Errorf("second block = %+v", blocks[1])
	}
}

func TestCollapseSubagentNesting(t *testing.T) {
	raw := []store.ChatMessage{
		assistantTool("a1", "tu-1", "Task"),
		assistantTool("a2", "tu-2", "Bash"),
		assistantTool("a3", "tu-3", "Bash"),
		assistantText("a4", "report"),
		assistantTool("a5", "tu-4", "Bash"),
	}
	got := Prepare(raw, testCategories())
	blocks := got[0].Blocks
	if len(blocks) != 3 {
		t.Fatalf("blocks = %+v, want subagent + text + tool", blocks)
	}
	if blocks[0].Type != BlockSubagent || len(blocks[0].Children) != 2 {
		t.Errorf("subagent = %+v", blocks[0])
	}
	// The text block ends nesting; the trailing call is top-level.
	if blocks[2].ToolName != "Bash" || blocks[2].Type != BlockToolUse {
		t.Errorf("trailing block = %+v", blocks[2])
	}
}

func TestPipelineDeltas(t *testing.T) {
	p := NewPipeline(nil)

	raw := []store.ChatMessage{userMsg("u1", "hi")}
	deltas := p.Render("c1", raw)
	if len(deltas) != 1 || deltas[0].Kind != DeltaSet || len(deltas[0].Messages) != 1 {
		t.Fatalf("first render = %+v, want full set", deltas)
	}

	// No change: no deltas.
	if deltas = p.Render("c1", raw); len(deltas) != 0 {
		t.Fatalf("unchanged render = %+v, want none", deltas)
	}

	// New trailing message: added only, prefix not resent.
	raw = append(raw, assistantText("a1", "hello"))
	deltas = p.Render("c1", raw)
	if len(deltas) != 1 || deltas[0].Kind != DeltaAdded || len(deltas[0].Messages) != 1 {
		t.Fatalf("append render = %+v, want one added", deltas)
	}
	if deltas[0].Messages[0].ID != "a1" {
		t.Errorf("added = %+v", deltas[0].Messages[0])
	}

	// Last message grows in place (streamed turn): updated.
	raw[1] = store.ChatMessage{
		ID:   "a1",
		Type: store.MessageAssistant,
		Blocks: []adapter.ContentBlock{
			{Type: "text", Text: "hello"},
			{Type: "text", Text: "more"},
		},
	}
	deltas = p.Render("c1", raw)
	if len(deltas) != 1 || deltas[0].Kind != DeltaUpdated {
		t.Fatalf("grow render = %+v, want one updated", deltas)
	}

	// Forget resets to a full set.
	p.Forget("c1")
	deltas = p.Render("c1", raw)
	if len(deltas) != 1 || deltas[0].Kind != DeltaSet {
		t.Fatalf("post-forget render = %+v, want set", deltas)
	}
}
