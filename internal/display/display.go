// Package display derives the client-facing view of a chat's raw message
// log: control messages filtered out, assistant turns merged, tool results
// attached to their calls, and tool runs collapsed by category.
package display

import (
	"encoding/json"
	"time"

	"github.com/muesli/reflow/truncate"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/store"
)

// previewWidth bounds tool-input previews shown in collapsed groups.
const previewWidth = 80

// Message types in the rendered view.
const (
	TypeUser      = "user"
	TypeAssistant = "assistant"
)

// Block types in the rendered view.
const (
	BlockText     = "text"
	BlockToolUse  = "tool_use"
	BlockGroup    = "tool_group"
	BlockProgress = "progress"
	BlockSubagent = "subagent"
)

// Message is one rendered entry. An assistant Message may span several
// raw log entries merged into a single visual turn.
type Message struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Blocks     []Block   `json:"blocks"`
	DurationMS int64     `json:"durationMs,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Block is one rendered content unit.
type Block struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolUseID string          `json:"toolUseId,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Preview   string          `json:"preview,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"isError,omitempty"`
	HasResult bool            `json:"hasResult,omitempty"`
	Count     int             `json:"count,omitempty"`
	Children  []Block         `json:"children,omitempty"`
}

type toolOutcome struct {
	content string
	isError bool
}

// Prepare renders raw log messages into the client view. cats may be nil,
// in which case no category collapsing is applied.
func Prepare(raw []store.ChatMessage, cats adapter.Categories) []Message {
	// First pass: index tool results by the call they answer, so a result
	// can land on its tool_use block no matter how far apart they sit in
	// the log.
	results := map[string]toolOutcome{}
	for i := range raw {
		if raw[i].Type != store.MessageUser {
			continue
		}
		for _, b := range raw[i].Blocks {
			if b.Type != "tool_result" || b.ToolUseID == "" {
				continue
			}
			if _, ok := results[b.ToolUseID]; !ok {
				results[b.ToolUseID] = toolOutcome{content: string(b.Content), isError: b.IsError}
			}
		}
	}

	var out []Message
	var turn *Message         // open assistant turn, not yet in out
	seen := map[string]bool{} // toolUseID de-duplication across the stream

	flushTurn := func() {
		if turn == nil {
			return
		}
		turn.Blocks = collapse(turn.Blocks, cats)
		if len(turn.Blocks) > 0 {
			out = append(out, *turn)
		}
		turn = nil
	}

	for i := range raw {
		msg := &raw[i]

		switch msg.Type {
		case store.MessageCommand, store.MessageSystem:
			// Internal control channel and lifecycle chatter; never shown.
			continue

		case store.MessageResult:
			// Turn duration rides on the latest assistant turn instead of
			// rendering as its own message.
			if d, ok := msg.Meta["duration_ms"].(float64); ok {
				if turn != nil {
					turn.DurationMS = int64(d)
				} else if n := len(out); n > 0 && out[n-1].Type == TypeAssistant {
					out[n-1].DurationMS = int64(d)
				}
			}

		case store.MessageUser:
			if hasToolResult(msg.Blocks) {
				// Already indexed in the first pass.
				continue
			}
			flushTurn()
			out = append(out, Message{
				ID:        msg.ID,
				Type:      TypeUser,
				Blocks:    textBlocks(msg.Blocks),
				CreatedAt: msg.CreatedAt,
			})

		case store.MessageAssistant:
			if turn == nil {
				turn = &Message{
					ID:        msg.ID,
					Type:      TypeAssistant,
					CreatedAt: msg.CreatedAt,
				}
			}
			for _, b := range msg.Blocks {
				switch b.Type {
				case "text":
					if b.Text != "" {
						turn.Blocks = append(turn.Blocks, Block{Type: BlockText, Text: b.Text})
					}
				case "tool_use":
					if b.ID != "" && seen[b.ID] {
						// Replayed history from a resumed CLI session.
						continue
					}
					seen[b.ID] = true
					block := Block{
						Type:      BlockToolUse,
						ToolUseID: b.ID,
						ToolName:  b.Name,
						Input:     b.Input,
						Preview:   truncate.StringWithTail(string(b.Input), previewWidth, "…"),
					}
					if res, ok := results[b.ID]; ok {
						block.Result = res.content
						block.IsError = res.isError
						block.HasResult = true
					}
					turn.Blocks = append(turn.Blocks, block)
				}
			}
		}
	}
	flushTurn()
	return out
}

func hasToolResult(blocks []adapter.ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == "tool_result" {
			return true
		}
	}
	return false
}

func textBlocks(blocks []adapter.ContentBlock) []Block {
	var out []Block
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			out = append(out, Block{Type: BlockText, Text: b.Text})
		}
	}
	return out
}

// collapse applies category grouping to one turn's blocks: hidden calls
// drop, progress calls fold into one indicator at the first call's index,
// runs of two or more explore calls fold into a group, and a subagent
// call nests every following call until the next text block or subagent.
func collapse(blocks []Block, cats adapter.Categories) []Block {
	if cats == nil {
		return blocks
	}

	var out []Block
	var exploreRun []Block
	progressIdx := -1
	subagentIdx := -1

	flushExplore := func() {
		switch {
		case len(exploreRun) >= 2:
			out = append(out, Block{
				Type:     BlockGroup,
				Count:    len(exploreRun),
				Children: exploreRun,
			})
		case len(exploreRun) == 1:
			out = append(out, exploreRun[0])
		}
		exploreRun = nil
	}

	for _, b := range blocks {
		if b.Type == BlockText {
			flushExplore()
			subagentIdx = -1
			out = append(out, b)
			continue
		}

		cat := cats.Lookup(b.ToolName)
		switch cat {
		case adapter.CategoryHidden:
			continue

		case adapter.CategoryProgress:
			if progressIdx < 0 {
				flushExplore()
				progressIdx = len(out)
				out = append(out, Block{Type: BlockProgress, Count: 1, ToolName: b.ToolName})
			} else {
				out[progressIdx].Count++
			}

		case adapter.CategorySubagent:
			flushExplore()
			sub := b
			sub.Type = BlockSubagent
			out = append(out, sub)
			subagentIdx = len(out) - 1

		default:
			if subagentIdx >= 0 {
				out[subagentIdx].Children = append(out[subagentIdx].Children, b)
				continue
			}
			if cat == adapter.CategoryExplore {
				exploreRun = append(exploreRun, b)
				continue
			}
			flushExplore()
			out = append(out, b)
		}
	}
	flushExplore()
	return out
}
