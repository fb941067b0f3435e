package adapter

import (
	"encoding/json"
	"testing"
)

func TestFlexContentString(t *testing.T) {
	var block ContentBlock
	if err := json.Unmarshal([]byte(`{"type":"tool_result","content":"plain output"}`), &block); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(block.Content) != "plain output" {
		t.Errorf("content = %q", block.Content)
	}
}

func TestFlexContentArray(t *testing.T) {
	raw := `{"type":"tool_result","content":[{"type":"text","text":"line one"},{"type":"text","text":"line two"}]}`
	var block ContentBlock
	if err := json.Unmarshal([]byte(raw), &block); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(block.Content) != "line one\nline two" {
		t.Errorf("content = %q", block.Content)
	}
}

func TestEventHelpers(t *testing.T) {
	ev := &Event{
		Type: EventAssistant,
		Message: &NestedMessage{
			Role: "assistant",
			Content: []ContentBlock{
				{Type: "text", Text: "thinking"},
				{Type: "tool_use", ID: "tu-1", Name: "Bash"},
				{Type: "tool_result", ToolUseID: "tu-0"},
			},
		},
	}

	if !ev.IsToolUse() || !ev.IsToolResult() {
		t.Error("helpers missed blocks")
	}
	if ev.Text() != "thinking" {
		t.Errorf("Text() = %q", ev.Text())
	}
	if uses := ev.ToolUses(); len(uses) != 1 || uses[0].ID != "tu-1" {
		t.Errorf("ToolUses() = %+v", uses)
	}
	if results := ev.ToolResults(); len(results) != 1 || results[0].ToolUseID != "tu-0" {
		t.Errorf("ToolResults() = %+v", results)
	}

	empty := &Event{Type: EventSystem}
	if empty.IsToolUse() || empty.Text() != "" || empty.ToolUses() != nil {
		t.Error("nil message should yield empty results")
	}
}
