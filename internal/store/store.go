// Package store provides persistence for chats, projects, and the durable
// message log. The orchestrator talks to the Store interface; the shipped
// backend is SQLite.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/parley-dev/parley/internal/adapter"
)

// Errors returned by store operations.
var (
	ErrNotFound = errors.New("store: not found")
)

// Process states persisted on a chat row.
const (
	ProcessStopped  = "stopped"
	ProcessStarting = "starting"
	ProcessReady    = "ready"
	ProcessRunning  = "running"
	ProcessError    = "error"
)

// Chat is a persisted conversation record.
type Chat struct {
	ID                string
	ProjectID         string
	AdapterID         string
	Title             string
	Model             string
	PermissionMode    string
	ExternalSessionID string
	WorktreePath      string
	WorktreeBranch    string
	ProcessState      string
	InputTokens       int
	OutputTokens      int
	CostUSD           float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ArchivedAt        *time.Time
}

// Project is a registered repository a chat belongs to.
type Project struct {
	ID        string
	Name      string
	Path      string
	CreatedAt time.Time
}

// Message types stored in the durable log.
const (
	MessageUser      = "user"
	MessageAssistant = "assistant"
	MessageSystem    = "system"
	MessageResult    = "result"
	MessageCommand   = "command" // internal control channel, not for display
)

// ChatMessage is one append-only event-log entry.
type ChatMessage struct {
	ID        string
	ChatID    string
	Type      string
	Blocks    []adapter.ContentBlock
	Meta      map[string]any
	CreatedAt time.Time
}

// Text returns the concatenated text block content of the message.
func (m *ChatMessage) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == "text" && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}

// HasToolUse reports whether any block is a tool_use.
func (m *ChatMessage) HasToolUse() bool {
	for _, b := range m.Blocks {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}

// ChatUpdate describes a partial chat mutation. Nil fields are left
// untouched; pointers distinguish unset from zero.
type ChatUpdate struct {
	Title             *string
	AdapterID         *string
	Model             *string
	PermissionMode    *string
	ExternalSessionID *string
	WorktreePath      *string
	WorktreeBranch    *string
	ProcessState      *string
	InputTokens       *int
	OutputTokens      *int
	CostUSD           *float64
}

// String returns a pointer to s, for building ChatUpdate values.
func String(s string) *string { return &s }

// Int returns a pointer to i, for building ChatUpdate values.
func Int(i int) *int { return &i }

// Float returns a pointer to f, for building ChatUpdate values.
func Float(f float64) *float64 { return &f }

// Store is the persistence interface consumed by the orchestrator.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	// RemoveProjectWithChats deletes a project and all of its chats,
	// messages, and accumulator rows.
	RemoveProjectWithChats(ctx context.Context, projectID string) error

	// Chats
	CreateChat(ctx context.Context, c *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	UpdateChat(ctx context.Context, id string, upd ChatUpdate) (*Chat, error)
	ListChats(ctx context.Context, projectID string) ([]*Chat, error)
	ArchiveChat(ctx context.Context, id string) error
	DeleteChat(ctx context.Context, id string) error

	// Durable message log
	AppendMessage(ctx context.Context, m *ChatMessage) error
	// ListMessages returns up to limit most recent messages in chronological
	// order. limit <= 0 means all.
	ListMessages(ctx context.Context, chatID string, limit int) ([]ChatMessage, error)
	DeleteMessages(ctx context.Context, chatID string) error

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Accumulators
	AddMention(ctx context.Context, chatID, value string) error
	AddModifiedFile(ctx context.Context, chatID, path string) error
	AddPlanFile(ctx context.Context, chatID, path, title string) error
	AddSkillFile(ctx context.Context, chatID, name, path string) error
	ListPlanFiles(ctx context.Context, chatID string) ([]string, error)

	Close() error
}
