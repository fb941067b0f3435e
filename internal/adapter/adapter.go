// Package adapter provides an abstraction layer for different agent CLI
// implementations. This allows parley to drive multiple agent backends such as
// Claude Code, OpenAI Codex CLI, etc.
package adapter

import (
	"errors"
	"os/exec"
)

// ErrUnsupportedControl is returned by adapters that cannot express a given
// control call on their wire protocol.
var ErrUnsupportedControl = errors.New("adapter: unsupported control call")

// Adapter defines the interface for agent CLI implementations.
// Each adapter handles the specific details of building commands, parsing
// streams, and formatting control frames for its respective CLI tool.
type Adapter interface {
	// ID returns the adapter identifier (e.g., "claude", "codex").
	ID() string

	// BuildCommand creates the exec.Cmd for this adapter.
	// The returned command is not started yet.
	BuildCommand(cfg CommandConfig) (*exec.Cmd, error)

	// ParseEvent parses a newline-delimited JSON line from the CLI's output
	// into the canonical Event form. Returns nil, nil for empty lines and
	// lines the adapter chooses to skip.
	ParseEvent(line []byte) (*Event, error)

	// FormatUserMessage formats a user message for stdin.
	// Returns the bytes ready to be written to the CLI's stdin, newline
	// terminated.
	FormatUserMessage(content string, sessionID string) ([]byte, error)

	// FormatControl formats a one-way control frame (interrupt, model change,
	// permission-mode change, permission response) for stdin.
	// Returns ErrUnsupportedControl when the CLI has no equivalent.
	FormatControl(req ControlRequest) ([]byte, error)
}

// CommandConfig contains parameters for building the CLI command.
type CommandConfig struct {
	// Binary overrides the CLI binary; empty means the adapter's default.
	Binary string

	// WorkDir is the working directory for the CLI process.
	WorkDir string

	// ChatID identifies the owning chat; set in the environment so hooks and
	// helpers can call back into the daemon.
	ChatID string

	// Model is the model to run with. Empty means the CLI default.
	Model string

	// PermissionMode is one of default/acceptEdits/plan/yolo.
	PermissionMode string

	// ResumeSessionID resumes an existing CLI session when non-empty.
	ResumeSessionID string
}

// Control call kinds.
type ControlKind string

const (
	ControlInterrupt          ControlKind = "interrupt"
	ControlSetModel           ControlKind = "set_model"
	ControlSetPermissionMode  ControlKind = "set_permission_mode"
	ControlPermissionResponse ControlKind = "permission_response"
)

// ControlRequest describes a one-way control call to format for stdin.
type ControlRequest struct {
	Kind      ControlKind
	RequestID string              // permission_response: wire request id
	Model     string              // set_model
	Mode      string              // set_permission_mode
	Response  *PermissionResponse // permission_response
}
