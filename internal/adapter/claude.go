package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// Permission modes shared across the daemon. Adapters translate these to
// whatever their CLI calls them.
const (
	ModeDefault     = "default"
	ModeAcceptEdits = "acceptEdits"
	ModePlan        = "plan"
	ModeYolo        = "yolo"
)

// ExitPlanModeTool is the tool name agents use to leave plan mode. Responses
// to permission requests for this tool drive the plan-mode state machine.
const ExitPlanModeTool = "ExitPlanMode"

// ClaudeAdapter implements the Adapter interface for Claude Code CLI.
type ClaudeAdapter struct{}

// NewClaudeAdapter creates a new Claude Code adapter.
func NewClaudeAdapter() *ClaudeAdapter {
	return &ClaudeAdapter{}
}

// Verify ClaudeAdapter implements Adapter interface.
var _ Adapter = (*ClaudeAdapter)(nil)

// ID returns the adapter identifier.
func (a *ClaudeAdapter) ID() string {
	return "claude"
}

// claudePermissionMode maps a parley permission mode to the CLI flag value.
func claudePermissionMode(mode string) string {
	switch mode {
	case ModeAcceptEdits:
		return "acceptEdits"
	case ModePlan:
		return "plan"
	case ModeYolo:
		return "bypassPermissions"
	default:
		return "default"
	}
}

// BuildCommand creates the exec.Cmd for launching Claude Code.
// --verbose is required when using --output-format stream-json.
func (a *ClaudeAdapter) BuildCommand(cfg CommandConfig) (*exec.Cmd, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = "claude"
	}

	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--permission-mode", claudePermissionMode(cfg.PermissionMode),
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.ResumeSessionID != "" {
		args = append(args, "--resume", cfg.ResumeSessionID)
	}

	cmd := exec.Command(binary, args...)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}
	cmd.Env = append(os.Environ(), "PARLEY_CHAT_ID="+cfg.ChatID)

	return cmd, nil
}

// claudeEvent is the wire shape of one Claude Code stream-json line.
type claudeEvent struct {
	Type      string         `json:"type"`
	Subtype   string         `json:"subtype,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Message   *NestedMessage `json:"message,omitempty"`

	// result type
	Result       string  `json:"result,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	Usage        *Usage  `json:"usage,omitempty"`

	// control_request type
	RequestID string                `json:"request_id,omitempty"`
	Request   *claudeControlRequest `json:"request,omitempty"`

	// plan_file / skill_file types
	Path string `json:"path,omitempty"`
	Name string `json:"name,omitempty"`
}

// claudeControlRequest is the inner payload of a control_request line.
type claudeControlRequest struct {
	Subtype     string            `json:"subtype"`
	ToolName    string            `json:"tool_name,omitempty"`
	ToolUseID   string            `json:"tool_use_id,omitempty"`
	Input       json.RawMessage   `json:"input,omitempty"`
	Suggestions []json.RawMessage `json:"permission_suggestions,omitempty"`
}

// ParseEvent parses a JSONL line from Claude Code's output.
func (a *ClaudeAdapter) ParseEvent(line []byte) (*Event, error) {
	if len(line) == 0 {
		return nil, nil
	}

	var ev claudeEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("parse claude event: %w", err)
	}

	switch ev.Type {
	case "system":
		return &Event{
			Type:      EventSystem,
			Subtype:   ev.Subtype,
			SessionID: ev.SessionID,
		}, nil

	case "assistant", "user":
		return &Event{
			Type:      ev.Type,
			SessionID: ev.SessionID,
			Message:   ev.Message,
		}, nil

	case "result":
		return &Event{
			Type:      EventResult,
			SessionID: ev.SessionID,
			Result: &ResultSummary{
				Result:       ev.Result,
				IsError:      ev.IsError,
				DurationMS:   ev.DurationMS,
				NumTurns:     ev.NumTurns,
				TotalCostUSD: ev.TotalCostUSD,
				Usage:        ev.Usage,
			},
		}, nil

	case "control_request":
		if ev.Request == nil || ev.Request.Subtype != "can_use_tool" {
			// Other control subtypes are acknowledgements we don't consume.
			return nil, nil
		}
		return &Event{
			Type: EventControlRequest,
			Permission: &PermissionRequest{
				RequestID:   ev.RequestID,
				ToolName:    ev.Request.ToolName,
				ToolUseID:   ev.Request.ToolUseID,
				Input:       ev.Request.Input,
				Suggestions: ev.Request.Suggestions,
			},
		}, nil

	case "plan_file":
		return &Event{Type: EventPlanFile, Path: ev.Path}, nil

	case "skill_file":
		return &Event{
			Type:  EventSkillFile,
			Skill: &SkillEntry{Name: ev.Name, Path: ev.Path},
		}, nil

	default:
		// Unknown line types are skipped, not errors.
		return nil, nil
	}
}

// claudeInputMessage is the stdin frame for a user message.
type claudeInputMessage struct {
	Type            string            `json:"type"`
	Message         claudeMessageBody `json:"message"`
	SessionID       string            `json:"session_id"`
	ParentToolUseID *string           `json:"parent_tool_use_id"`
}

type claudeMessageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FormatUserMessage formats a user message for stdin.
func (a *ClaudeAdapter) FormatUserMessage(content string, sessionID string) ([]byte, error) {
	if sessionID == "" {
		sessionID = "default"
	}
	msg := claudeInputMessage{
		Type: "user",
		Message: claudeMessageBody{
			Role:    "user",
			Content: content,
		},
		SessionID:       sessionID,
		ParentToolUseID: nil,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	// Append newline for JSONL format
	return append(data, '\n'), nil
}

// FormatControl formats a control frame for Claude Code stdin.
func (a *ClaudeAdapter) FormatControl(req ControlRequest) ([]byte, error) {
	var frame any

	switch req.Kind {
	case ControlInterrupt:
		frame = map[string]any{
			"type":       "control_request",
			"request_id": req.RequestID,
			"request":    map[string]any{"subtype": "interrupt"},
		}

	case ControlSetModel:
		frame = map[string]any{
			"type":       "control_request",
			"request_id": req.RequestID,
			"request": map[string]any{
				"subtype": "set_model",
				"model":   req.Model,
			},
		}

	case ControlSetPermissionMode:
		frame = map[string]any{
			"type":       "control_request",
			"request_id": req.RequestID,
			"request": map[string]any{
				"subtype": "set_permission_mode",
				"mode":    claudePermissionMode(req.Mode),
			},
		}

	case ControlPermissionResponse:
		if req.Response == nil {
			return nil, fmt.Errorf("permission response missing body")
		}
		inner := map[string]any{"behavior": req.Response.Behavior}
		if req.Response.Message != "" {
			inner["message"] = req.Response.Message
		}
		if len(req.Response.UpdatedInput) > 0 {
			inner["updatedInput"] = json.RawMessage(req.Response.UpdatedInput)
		}
		frame = map[string]any{
			"type": "control_response",
			"response": map[string]any{
				"subtype":    "success",
				"request_id": req.RequestID,
				"response":   inner,
			},
		}

	default:
		return nil, ErrUnsupportedControl
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func init() {
	Register(&ClaudeAdapter{})
}
