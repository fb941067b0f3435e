package adapter

import (
	"encoding/json"
	"strings"
)

// Event types emitted by adapter subprocesses, after translation into the
// canonical form. Adapters map their CLI-specific wire events onto these.
const (
	EventSystem         = "system"
	EventAssistant      = "assistant"
	EventUser           = "user"
	EventResult         = "result"
	EventControlRequest = "control_request"
	EventPlanFile       = "plan_file"
	EventSkillFile      = "skill_file"
)

// System event subtypes.
const (
	SubtypeInit    = "init"
	SubtypeCompact = "compact_boundary"
)

// Event is the canonical representation of one message from an agent CLI's
// streaming output. Adapters translate their CLI-specific output into this.
type Event struct {
	Type       string             `json:"type"`
	Subtype    string             `json:"subtype,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
	Message    *NestedMessage     `json:"message,omitempty"`    // assistant/user types
	Result     *ResultSummary     `json:"result,omitempty"`     // result type
	Permission *PermissionRequest `json:"permission,omitempty"` // control_request type
	Path       string             `json:"path,omitempty"`       // plan_file type
	Skill      *SkillEntry        `json:"skill,omitempty"`      // skill_file type
}

// NestedMessage contains the actual API message content.
type NestedMessage struct {
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
}

// ContentBlock represents a single content item in a message.
type ContentBlock struct {
	Type      string          `json:"type"` // "text", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`          // tool_use ID
	Name      string          `json:"name,omitempty"`        // Tool name (Bash, Read, etc.)
	Input     json.RawMessage `json:"input,omitempty"`       // Tool input as raw JSON
	Content   FlexContent     `json:"content,omitempty"`     // tool_result content (string or array)
	ToolUseID string          `json:"tool_use_id,omitempty"` // Links result to tool_use
	IsError   bool            `json:"is_error,omitempty"`    // tool_result error flag
}

// FlexContent handles the "content" field which can be either a string
// or an array of content parts (e.g., [{"type":"text","text":"..."}]).
type FlexContent string

// UnmarshalJSON implements custom unmarshaling for FlexContent.
func (f *FlexContent) UnmarshalJSON(data []byte) error {
	// Try string first (most common case)
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexContent(s)
		return nil
	}

	// Try array of content parts
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parts); err == nil {
		var texts []string
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		*f = FlexContent(strings.Join(texts, "\n"))
		return nil
	}

	// If neither works, just store the raw JSON as string for debugging
	*f = FlexContent(string(data))
	return nil
}

// Usage contains token usage information.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// ResultSummary is the canonical form of a turn-completion event.
type ResultSummary struct {
	Result       string  `json:"result,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	Usage        *Usage  `json:"usage,omitempty"`
}

// PermissionRequest is one pending tool-authorization prompt, as emitted by
// the subprocess. RequestID correlates the wire response; ToolUseID is the
// durable key that survives crashes and restarts.
type PermissionRequest struct {
	RequestID   string            `json:"request_id"`
	ToolName    string            `json:"tool_name"`
	ToolUseID   string            `json:"tool_use_id"`
	Input       json.RawMessage   `json:"input,omitempty"`
	Suggestions []json.RawMessage `json:"suggestions,omitempty"`
}

// PermissionResponse is a decision sent back for a permission request.
type PermissionResponse struct {
	Behavior     string          `json:"behavior"` // "allow" or "deny"
	Message      string          `json:"message,omitempty"`
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
}

// Permission response behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// SkillEntry identifies a skill file the agent loaded or created.
type SkillEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// IsToolUse returns true if the event contains any tool_use blocks.
func (e *Event) IsToolUse() bool {
	if e.Message == nil {
		return false
	}
	for _, block := range e.Message.Content {
		if block.Type == "tool_use" {
			return true
		}
	}
	return false
}

// IsToolResult returns true if the event contains any tool_result blocks.
func (e *Event) IsToolResult() bool {
	if e.Message == nil {
		return false
	}
	for _, block := range e.Message.Content {
		if block.Type == "tool_result" {
			return true
		}
	}
	return false
}

// Text returns all text content from the event, concatenated.
func (e *Event) Text() string {
	if e.Message == nil {
		return ""
	}
	var texts []string
	for _, block := range e.Message.Content {
		if block.Type == "text" && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolUses returns all tool_use blocks from the event.
func (e *Event) ToolUses() []ContentBlock {
	if e.Message == nil {
		return nil
	}
	var tools []ContentBlock
	for _, block := range e.Message.Content {
		if block.Type == "tool_use" {
			tools = append(tools, block)
		}
	}
	return tools
}

// ToolResults returns all tool_result blocks from the event.
func (e *Event) ToolResults() []ContentBlock {
	if e.Message == nil {
		return nil
	}
	var results []ContentBlock
	for _, block := range e.Message.Content {
		if block.Type == "tool_result" {
			results = append(results, block)
		}
	}
	return results
}
