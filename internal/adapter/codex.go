package adapter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// CodexAdapter implements Adapter for OpenAI Codex CLI.
// Codex uses an event-based protocol with type-discriminated messages; events
// are converted into the canonical form.
type CodexAdapter struct{}

// ID returns the adapter identifier.
func (a *CodexAdapter) ID() string { return "codex" }

// BuildCommand creates the exec.Cmd for the Codex CLI.
func (a *CodexAdapter) BuildCommand(cfg CommandConfig) (*exec.Cmd, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = "codex"
	}

	args := []string{"exec", "--json"}

	switch cfg.PermissionMode {
	case ModeYolo:
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	default:
		// workspace-write + on-request approval
		args = append(args, "--full-auto")
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.ResumeSessionID != "" {
		args = append(args, "resume", cfg.ResumeSessionID)
	}

	cmd := exec.Command(binary, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = append(os.Environ(), "PARLEY_CHAT_ID="+cfg.ChatID)

	return cmd, nil
}

// ParseEvent parses a JSONL line from Codex CLI's output.
func (a *CodexAdapter) ParseEvent(line []byte) (*Event, error) {
	if len(line) == 0 {
		return nil, nil
	}

	var event codexEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return nil, fmt.Errorf("parse codex event: %w", err)
	}

	return a.convertEvent(&event)
}

// FormatUserMessage formats a user message for Codex stdin.
// Codex uses a submission queue protocol with id and op fields.
func (a *CodexAdapter) FormatUserMessage(content string, sessionID string) ([]byte, error) {
	submission := codexSubmission{
		ID: sessionID,
		Op: codexOp{
			Type: "user_input",
			Items: []codexInputItem{
				{
					Type: "text",
					Text: content,
				},
			},
		},
	}

	data, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("marshal codex submission: %w", err)
	}

	return append(data, '\n'), nil
}

// FormatControl formats a control frame for Codex stdin.
// Codex only supports interrupt on its submission protocol; approval and mode
// changes are fixed at spawn time via flags.
func (a *CodexAdapter) FormatControl(req ControlRequest) ([]byte, error) {
	switch req.Kind {
	case ControlInterrupt:
		submission := codexSubmission{
			ID: req.RequestID,
			Op: codexOp{Type: "interrupt"},
		}
		data, err := json.Marshal(submission)
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return nil, ErrUnsupportedControl
	}
}

// convertEvent converts a Codex event to a canonical Event.
func (a *CodexAdapter) convertEvent(event *codexEvent) (*Event, error) {
	switch event.Msg.Type {
	case "task_started":
		return &Event{
			Type:      EventSystem,
			Subtype:   SubtypeInit,
			SessionID: event.Msg.ThreadID,
		}, nil

	case "task_complete":
		return &Event{
			Type: EventResult,
			Result: &ResultSummary{
				Result: event.Msg.LastAgentMessage,
			},
		}, nil

	case "agent_message":
		return &Event{
			Type: EventAssistant,
			Message: &NestedMessage{
				Role: "assistant",
				Content: []ContentBlock{
					{
						Type: "text",
						Text: event.Msg.Message,
					},
				},
			},
		}, nil

	case "exec_command_begin":
		// Convert to tool_use format
		cmdInput, _ := json.Marshal(map[string]any{
			"command": event.Msg.Command,
			"cwd":     event.Msg.Cwd,
		})
		return &Event{
			Type: EventAssistant,
			Message: &NestedMessage{
				Role: "assistant",
				Content: []ContentBlock{
					{
						Type:  "tool_use",
						ID:    event.Msg.CallID,
						Name:  "Bash",
						Input: cmdInput,
					},
				},
			},
		}, nil

	case "exec_approval_request":
		// Codex asks before running a command; surface as a permission request
		// keyed by the call id.
		cmdInput, _ := json.Marshal(map[string]any{
			"command": event.Msg.Command,
			"cwd":     event.Msg.Cwd,
		})
		return &Event{
			Type: EventControlRequest,
			Permission: &PermissionRequest{
				RequestID: event.ID,
				ToolName:  "Bash",
				ToolUseID: event.Msg.CallID,
				Input:     cmdInput,
			},
		}, nil

	case "exec_command_output_delta":
		// Decode base64 chunk and emit as partial tool result
		output := ""
		if event.Msg.Chunk != "" {
			decoded, err := base64.StdEncoding.DecodeString(event.Msg.Chunk)
			if err == nil {
				output = string(decoded)
			}
		}
		return &Event{
			Type: EventUser,
			Message: &NestedMessage{
				Role: "user",
				Content: []ContentBlock{
					{
						Type:      "tool_result",
						ToolUseID: event.Msg.CallID,
						Content:   FlexContent(output),
					},
				},
			},
		}, nil

	case "exec_command_end":
		output := event.Msg.AggregatedOutput
		if output == "" {
			output = event.Msg.FormattedOutput
		}
		isError := event.Msg.ExitCode != 0
		return &Event{
			Type: EventUser,
			Message: &NestedMessage{
				Role: "user",
				Content: []ContentBlock{
					{
						Type:      "tool_result",
						ToolUseID: event.Msg.CallID,
						Content:   FlexContent(output),
						IsError:   isError,
					},
				},
			},
		}, nil

	case "token_count":
		var usage *Usage
		if event.Msg.Info != nil && event.Msg.Info.LastTokenUsage != nil {
			tu := event.Msg.Info.LastTokenUsage
			usage = &Usage{
				InputTokens:          tu.InputTokens,
				OutputTokens:         tu.OutputTokens,
				CacheReadInputTokens: tu.CachedInputTokens,
			}
		}
		if usage != nil {
			return &Event{
				Type: EventAssistant,
				Message: &NestedMessage{
					Role:  "assistant",
					Usage: usage,
				},
			}, nil
		}
		return nil, nil

	case "error":
		return &Event{
			Type: EventResult,
			Result: &ResultSummary{
				Result:  event.Msg.Message,
				IsError: true,
			},
		}, nil

	default:
		// Unknown event type, skip
		return nil, nil
	}
}

// Codex protocol types

// codexEvent represents a Codex event wrapper.
type codexEvent struct {
	ID  string        `json:"id"`
	Msg codexEventMsg `json:"msg"`
}

// codexEventMsg represents the inner event message.
type codexEventMsg struct {
	Type string `json:"type"`

	// TaskStarted
	ThreadID           string `json:"thread_id,omitempty"`
	ModelContextWindow int64  `json:"model_context_window,omitempty"`

	// TaskComplete
	LastAgentMessage string `json:"last_agent_message,omitempty"`

	// AgentMessage / Error
	Message string `json:"message,omitempty"`

	// ExecCommandBegin/End/ApprovalRequest
	CallID  string   `json:"call_id,omitempty"`
	Command []string `json:"command,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`

	// ExecCommandOutputDelta
	Stream string `json:"stream,omitempty"` // "stdout" or "stderr"
	Chunk  string `json:"chunk,omitempty"`  // base64-encoded

	// ExecCommandEnd
	AggregatedOutput string `json:"aggregated_output,omitempty"`
	ExitCode         int    `json:"exit_code,omitempty"`
	FormattedOutput  string `json:"formatted_output,omitempty"`

	// TokenCount
	Info *codexTokenInfo `json:"info,omitempty"`
}

// codexTokenInfo contains token usage information.
type codexTokenInfo struct {
	TotalTokenUsage    *codexTokenUsage `json:"total_token_usage,omitempty"`
	LastTokenUsage     *codexTokenUsage `json:"last_token_usage,omitempty"`
	ModelContextWindow int64            `json:"model_context_window,omitempty"`
}

// codexTokenUsage contains token counts.
type codexTokenUsage struct {
	InputTokens           int `json:"input_tokens"`
	CachedInputTokens     int `json:"cached_input_tokens"`
	OutputTokens          int `json:"output_tokens"`
	ReasoningOutputTokens int `json:"reasoning_output_tokens"`
	TotalTokens           int `json:"total_tokens"`
}

// codexSubmission represents a submission to Codex stdin.
type codexSubmission struct {
	ID string  `json:"id"`
	Op codexOp `json:"op"`
}

// codexOp represents an operation in a submission.
type codexOp struct {
	Type  string           `json:"type"`
	Items []codexInputItem `json:"items,omitempty"`
}

// codexInputItem represents an input item in a submission.
type codexInputItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Compile-time check that CodexAdapter implements Adapter.
var _ Adapter = (*CodexAdapter)(nil)

func init() {
	Register(&CodexAdapter{})
}
