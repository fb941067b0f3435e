// Package protocol defines the client/daemon wire schema: the closed set
// of inbound commands and the outbound event envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound command types. Anything outside this set is rejected.
const (
	CmdChatCreate          = "chat.create"
	CmdChatResume          = "chat.resume"
	CmdChatEnd             = "chat.end"
	CmdChatInterrupt       = "chat.interrupt"
	CmdChatUpdateConfig    = "chat.updateConfig"
	CmdChatArchive         = "chat.archive"
	CmdChatEnableWorktree  = "chat.enableWorktree"
	CmdChatDisableWorktree = "chat.disableWorktree"
	CmdMessageSend         = "message.send"
	CmdPermissionRespond   = "permission.respond"
	CmdSubscribe           = "subscribe"
	CmdUnsubscribe         = "unsubscribe"
)

// Command is one inbound client request. Fields beyond Type are
// interpreted per command type; Validate enforces the shape.
type Command struct {
	Type           string              `json:"type"`
	ChatID         string              `json:"chatId,omitempty"`
	ProjectID      string              `json:"projectId,omitempty"`
	AdapterID      string              `json:"adapterId,omitempty"`
	Model          *string             `json:"model,omitempty"`
	PermissionMode *string             `json:"permissionMode,omitempty"`
	Content        string              `json:"content,omitempty"`
	AttachmentIDs  []string            `json:"attachmentIds,omitempty"`
	Response       *PermissionDecision `json:"response,omitempty"`
}

// PermissionDecision is a client's answer to a pending tool-use prompt.
// Mode, ClearContext, and Plan only apply to plan-exit responses.
type PermissionDecision struct {
	Behavior     string          `json:"behavior"`
	Message      string          `json:"message,omitempty"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
	Mode         string          `json:"mode,omitempty"`
	ClearContext bool            `json:"clearContext,omitempty"`
	Plan         string          `json:"plan,omitempty"`
}

// Validation errors.
var (
	ErrUnknownCommand = errors.New("unknown command type")
	ErrMissingField   = errors.New("missing required field")
)

// Validate checks a decoded command against the closed command set and its
// required fields. A failure must produce a structured error frame, never
// a dropped connection.
func (c *Command) Validate() error {
	switch c.Type {
	case CmdChatCreate:
		if c.ProjectID == "" {
			return fmt.Errorf("%w: projectId", ErrMissingField)
		}
		if c.AdapterID == "" {
			return fmt.Errorf("%w: adapterId", ErrMissingField)
		}
	case CmdChatResume, CmdChatEnd, CmdChatInterrupt, CmdChatArchive,
		CmdChatEnableWorktree, CmdChatDisableWorktree,
		CmdSubscribe, CmdUnsubscribe:
		if c.ChatID == "" {
			return fmt.Errorf("%w: chatId", ErrMissingField)
		}
	case CmdChatUpdateConfig:
		if c.ChatID == "" {
			return fmt.Errorf("%w: chatId", ErrMissingField)
		}
		if c.AdapterID == "" && c.Model == nil && c.PermissionMode == nil {
			return fmt.Errorf("%w: adapterId, model, or permissionMode", ErrMissingField)
		}
	case CmdMessageSend:
		if c.ChatID == "" {
			return fmt.Errorf("%w: chatId", ErrMissingField)
		}
		if c.Content == "" {
			return fmt.Errorf("%w: content", ErrMissingField)
		}
	case CmdPermissionRespond:
		if c.ChatID == "" {
			return fmt.Errorf("%w: chatId", ErrMissingField)
		}
		if c.Response == nil {
			return fmt.Errorf("%w: response", ErrMissingField)
		}
		if c.Response.Behavior != "allow" && c.Response.Behavior != "deny" {
			return fmt.Errorf("invalid behavior %q", c.Response.Behavior)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}
	return nil
}

// Outbound event types.
const (
	EventChatCreated          = "chat.created"
	EventChatUpdated          = "chat.updated"
	EventChatEnded            = "chat.ended"
	EventProcessStarted       = "process.started"
	EventProcessReady         = "process.ready"
	EventProcessStopped       = "process.stopped"
	EventMessageAdded         = "message.added"
	EventMessagesCleared      = "messages.cleared"
	EventPermissionRequested  = "permission.requested"
	EventContextUpdated       = "context.updated"
	EventDisplaySet           = "display.messages.set"
	EventDisplayMessageAdded  = "display.message.added"
	EventDisplayMessageUpdate = "display.message.updated"
	EventError                = "error"
)

// Event is one outbound frame. Events with a ChatID go only to
// connections subscribed to that chat; events without one broadcast to
// every connection.
type Event struct {
	Type    string `json:"type"`
	ChatID  string `json:"chatId,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorEvent builds the structured error frame sent in reply to a bad or
// failing command.
func ErrorEvent(chatID, message string) Event {
	return Event{
		Type:    EventError,
		ChatID:  chatID,
		Payload: map[string]string{"message": message},
	}
}
