// Package permission tracks outstanding tool-authorization prompts per chat.
// Each chat has a strict FIFO queue; only the head is ever surfaced to
// clients. Queues can be rebuilt from durable message history after a
// daemon restart or subprocess crash.
package permission

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/store"
)

// failedSentinel marks tool_result errors produced when a permission
// request itself failed. Such a result does not mean the request was
// answered, so a history scan must not treat it as one.
const failedSentinel = "permission request failed"

// ModeFunc reports the current persisted permission mode for a chat.
type ModeFunc func(chatID string) string

// Manager holds per-chat permission queues and interrupt flags.
type Manager struct {
	mu sync.Mutex

	// +checklocks:mu
	queues map[string][]adapter.PermissionRequest
	// +checklocks:mu
	interrupted map[string]bool

	modeOf ModeFunc
}

// NewManager creates a Manager. modeOf is consulted by GetPending so that
// yolo-mode chats never surface a prompt; it may be nil in tests.
func NewManager(modeOf ModeFunc) *Manager {
	return &Manager{
		queues:      make(map[string][]adapter.PermissionRequest),
		interrupted: make(map[string]bool),
		modeOf:      modeOf,
	}
}

// Enqueue appends a request to the chat's queue. It returns true only when
// the request became the head of a previously empty queue; that is the
// caller's signal to broadcast a fresh prompt. Requests queued behind a
// live prompt return false so clients are not re-prompted.
func (m *Manager) Enqueue(chatID string, req adapter.PermissionRequest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[chatID]
	m.queues[chatID] = append(q, req)
	return len(q) == 0
}

// Shift pops the head of the chat's queue and returns the new head, or nil
// if the queue is now empty. Empty queues are deleted outright.
func (m *Manager) Shift(chatID string) *adapter.PermissionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[chatID]
	if len(q) == 0 {
		delete(m.queues, chatID)
		return nil
	}
	q = q[1:]
	if len(q) == 0 {
		delete(m.queues, chatID)
		return nil
	}
	m.queues[chatID] = q
	head := q[0]
	return &head
}

// GetPending returns the head of the chat's queue, or nil. Chats in yolo
// mode always report nil: the subprocess auto-approves, so surfacing a
// prompt would be noise. The queue itself is not mutated.
func (m *Manager) GetPending(chatID string) *adapter.PermissionRequest {
	if m.modeOf != nil && m.modeOf(chatID) == adapter.ModeYolo {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[chatID]
	if len(q) == 0 {
		return nil
	}
	head := q[0]
	return &head
}

// QueueLen returns the number of queued requests for a chat.
func (m *Manager) QueueLen(chatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[chatID])
}

// ClearChat drops the chat's queue and interrupt flag. Called on chat
// teardown.
func (m *Manager) ClearChat(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queues, chatID)
	delete(m.interrupted, chatID)
}

// MarkInterrupted sets the chat's one-shot interrupt flag.
func (m *Manager) MarkInterrupted(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interrupted[chatID] = true
}

// ClearInterrupted clears the flag.
func (m *Manager) ClearInterrupted(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.interrupted, chatID)
}

// WasInterrupted reports the flag without clearing it.
func (m *Manager) WasInterrupted(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupted[chatID]
}

// RestorePendingPermission rebuilds a lost prompt from durable history
// after a crash or restart. No-op when the chat already has a queue.
//
// The scan walks history newest-first. A user text message, or an
// assistant turn with no tool_use blocks, means the conversation moved on:
// nothing to restore. Otherwise tool_result blocks mark their toolUseId as
// answered, except error results carrying the failed-request sentinel. The
// first tool_use block with no answered entry is reinstated as a single
// synthetic pending request and the scan stops.
// The whole operation runs under the lock: the scan is pure in-memory, and
// releasing between the queue-existence check and the install would let a
// live request enqueued by the read goroutine be overwritten by the
// synthetic one.
func (m *Manager) RestorePendingPermission(chatID string, history []store.ChatMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[chatID]; ok {
		return
	}

	answered := make(map[string]bool)

	for i := len(history) - 1; i >= 0; i-- {
		msg := &history[i]

		switch msg.Type {
		case store.MessageUser:
			hasToolResult := false
			for _, b := range msg.Blocks {
				if b.Type != "tool_result" {
					continue
				}
				hasToolResult = true
				if b.ToolUseID == "" {
					continue
				}
				if b.IsError && strings.Contains(strings.ToLower(string(b.Content)), failedSentinel) {
					continue
				}
				answered[b.ToolUseID] = true
			}
			if !hasToolResult {
				// A plain user message means the turn completed.
				return
			}

		case store.MessageAssistant:
			uses := false
			for _, b := range msg.Blocks {
				if b.Type != "tool_use" {
					continue
				}
				uses = true
				if answered[b.ID] {
					continue
				}
				slog.Debug("restoring pending permission from history",
					"chat_id", chatID, "tool", b.Name, "tool_use_id", b.ID)
				m.queues[chatID] = []adapter.PermissionRequest{{
					ToolName:  b.Name,
					ToolUseID: b.ID,
					Input:     b.Input,
				}}
				return
			}
			if !uses {
				// Assistant spoke without tools; nothing was left pending.
				return
			}
		}
	}
}
