package chat

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/display"
	"github.com/parley-dev/parley/internal/planmode"
	"github.com/parley-dev/parley/internal/protocol"
	"github.com/parley-dev/parley/internal/store"
)

// Session callbacks. All of these run on the owning session's read
// goroutine; per-chat ordering is the stream's own ordering.

// OnInit records the agent's external session id and marks the chat ready.
func (m *Manager) OnInit(chatID, sessionID string) {
	ctx := context.Background()
	chat, err := m.store.UpdateChat(ctx, chatID, store.ChatUpdate{
		ExternalSessionID: store.String(sessionID),
		ProcessState:      store.String(store.ProcessReady),
	})
	if err != nil {
		m.log.Warn("persist session id failed", "chat_id", chatID, "error", err)
		return
	}
	m.mu.Lock()
	if ac := m.active[chatID]; ac != nil {
		ac.chat = chat
	}
	m.mu.Unlock()

	m.emit(protocol.Event{Type: protocol.EventProcessReady, ChatID: chatID, Payload: map[string]string{"sessionId": sessionID}})
	m.emit(protocol.Event{Type: protocol.EventChatUpdated, ChatID: chatID, Payload: chat})
}

// OnMessage records assistant output (or a plain user echo) and streams
// the updated display view.
func (m *Manager) OnMessage(chatID string, ev *adapter.Event) {
	if ev.Message == nil {
		return
	}
	msgType := store.MessageAssistant
	if ev.Type == adapter.EventUser {
		msgType = store.MessageUser
	}
	m.recordMessage(context.Background(), &store.ChatMessage{
		ChatID: chatID,
		Type:   msgType,
		Blocks: ev.Message.Content,
	})
	m.recordModifiedFiles(context.Background(), chatID, ev.ToolUses())
}

// OnToolResult records tool output coming back to the agent.
func (m *Manager) OnToolResult(chatID string, ev *adapter.Event) {
	if ev.Message == nil {
		return
	}
	m.recordMessage(context.Background(), &store.ChatMessage{
		ChatID: chatID,
		Type:   store.MessageUser,
		Blocks: ev.Message.Content,
	})
}

// OnPermission queues the request. Only a request that became the head of
// an empty queue is broadcast; anything queued behind a live prompt waits
// its turn. Yolo-mode chats queue silently.
func (m *Manager) OnPermission(chatID string, req adapter.PermissionRequest) {
	becameHead := m.perms.Enqueue(chatID, req)
	if !becameHead {
		return
	}
	if pending := m.perms.GetPending(chatID); pending != nil {
		m.emit(protocol.Event{Type: protocol.EventPermissionRequested, ChatID: chatID, Payload: pending})
	}
}

// OnResult closes the turn: duration and cost ride on a result log entry,
// token counters are accumulated on the chat row, and context.updated is
// broadcast.
func (m *Manager) OnResult(chatID string, res adapter.ResultSummary) {
	ctx := context.Background()

	meta := map[string]any{
		"duration_ms": float64(res.DurationMS),
		"num_turns":   float64(res.NumTurns),
		"is_error":    res.IsError,
	}
	m.recordMessage(ctx, &store.ChatMessage{
		ChatID: chatID,
		Type:   store.MessageResult,
		Blocks: []adapter.ContentBlock{{Type: "text", Text: res.Result}},
		Meta:   meta,
	})

	chat, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		return
	}
	upd := store.ChatUpdate{
		ProcessState: store.String(store.ProcessReady),
		CostUSD:      store.Float(chat.CostUSD + res.TotalCostUSD),
	}
	if res.Usage != nil {
		upd.InputTokens = store.Int(chat.InputTokens + res.Usage.InputTokens)
		upd.OutputTokens = store.Int(chat.OutputTokens + res.Usage.OutputTokens)
	}
	chat, err = m.store.UpdateChat(ctx, chatID, upd)
	if err != nil {
		m.log.Warn("persist result counters failed", "chat_id", chatID, "error", err)
		return
	}
	m.mu.Lock()
	if ac := m.active[chatID]; ac != nil {
		ac.chat = chat
	}
	m.mu.Unlock()

	m.emit(protocol.Event{Type: protocol.EventContextUpdated, ChatID: chatID, Payload: map[string]any{
		"inputTokens":  chat.InputTokens,
		"outputTokens": chat.OutputTokens,
		"costUsd":      chat.CostUSD,
	}})
	m.emit(protocol.Event{Type: protocol.EventChatUpdated, ChatID: chatID, Payload: chat})
}

// OnCompact notes a context compaction in the log.
func (m *Manager) OnCompact(chatID string) {
	m.recordMessage(context.Background(), &store.ChatMessage{
		ChatID: chatID,
		Type:   store.MessageSystem,
		Meta:   map[string]any{"compact": true},
	})
	m.emit(protocol.Event{Type: protocol.EventContextUpdated, ChatID: chatID, Payload: map[string]any{"compacted": true}})
}

// OnPlanFile persists the plan document reference and leaves a marker in
// the log so a later clear-context restart can salvage it.
func (m *Manager) OnPlanFile(chatID, path string) {
	ctx := context.Background()
	title := planmode.TitleFromFile(path)
	if err := m.store.AddPlanFile(ctx, chatID, path, title); err != nil {
		m.log.Warn("persist plan file failed", "chat_id", chatID, "path", path, "error", err)
	}
	m.recordMessage(ctx, &store.ChatMessage{
		ChatID: chatID,
		Type:   store.MessageSystem,
		Meta:   map[string]any{"plan_file": path},
	})
}

// OnSkillFile persists a skill registration.
func (m *Manager) OnSkillFile(chatID string, skill adapter.SkillEntry) {
	if err := m.store.AddSkillFile(context.Background(), chatID, skill.Name, skill.Path); err != nil {
		m.log.Warn("persist skill file failed", "chat_id", chatID, "skill", skill.Name, "error", err)
	}
}

// OnError surfaces a stream or stderr failure to subscribers. The session
// keeps running.
func (m *Manager) OnError(chatID string, err error) {
	m.log.Warn("session error", "chat_id", chatID, "error", err)
	m.emit(protocol.ErrorEvent(chatID, err.Error()))
}

// OnExit clears the session handle and reverse index entry. Queued
// permissions survive: they are recoverable from history on the next
// resume.
func (m *Manager) OnExit(chatID string, exitErr error) {
	m.mu.Lock()
	ac := m.active[chatID]
	if ac == nil || ac.session == nil {
		// A deliberate kill already detached the session; KillSession owns
		// the stop event and the persisted state for that path.
		m.mu.Unlock()
		return
	}
	delete(m.procIndex, ac.session.PID())
	ac.session = nil
	m.mu.Unlock()

	state := store.ProcessStopped
	if exitErr != nil {
		state = store.ProcessError
		m.log.Warn("session exited with error", "chat_id", chatID, "error", exitErr)
	}
	m.persistState(context.Background(), chatID, state)
	m.emit(protocol.Event{Type: protocol.EventProcessStopped, ChatID: chatID})
}

// recordMessage appends a raw message to the durable log and the cache,
// broadcasts message.added, and streams display deltas.
func (m *Manager) recordMessage(ctx context.Context, msg *store.ChatMessage) {
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		m.log.Warn("append message failed", "chat_id", msg.ChatID, "error", err)
	}
	m.cache.Append(msg.ChatID, *msg)
	m.emit(protocol.Event{Type: protocol.EventMessageAdded, ChatID: msg.ChatID, Payload: msg})

	for _, delta := range m.pipeline.Render(msg.ChatID, m.cache.Get(msg.ChatID)) {
		switch delta.Kind {
		case display.DeltaSet:
			m.emit(protocol.Event{Type: protocol.EventDisplaySet, ChatID: msg.ChatID, Payload: delta.Messages})
		case display.DeltaAdded:
			for i := range delta.Messages {
				m.emit(protocol.Event{Type: protocol.EventDisplayMessageAdded, ChatID: msg.ChatID, Payload: delta.Messages[i]})
			}
		case display.DeltaUpdated:
			m.emit(protocol.Event{Type: protocol.EventDisplayMessageUpdate, ChatID: msg.ChatID, Payload: delta.Message})
		}
	}
}

var mentionRe = regexp.MustCompile(`@([\w./-]+)`)

// recordMentions accumulates @file mentions from outgoing user text.
func (m *Manager) recordMentions(ctx context.Context, chatID, content string) {
	for _, match := range mentionRe.FindAllStringSubmatch(content, -1) {
		if err := m.store.AddMention(ctx, chatID, match[1]); err != nil {
			m.log.Debug("persist mention failed", "chat_id", chatID, "error", err)
		}
	}
}

// fileToolInput is the common shape of file-mutating tool inputs.
type fileToolInput struct {
	FilePath string `json:"file_path"`
}

// recordModifiedFiles accumulates paths touched by file-mutating tools.
func (m *Manager) recordModifiedFiles(ctx context.Context, chatID string, uses []adapter.ContentBlock) {
	for _, use := range uses {
		switch use.Name {
		case "Edit", "Write", "MultiEdit", "NotebookEdit":
		default:
			continue
		}
		var input fileToolInput
		if err := json.Unmarshal(use.Input, &input); err != nil || input.FilePath == "" {
			continue
		}
		if err := m.store.AddModifiedFile(ctx, chatID, input.FilePath); err != nil {
			m.log.Debug("persist modified file failed", "chat_id", chatID, "error", err)
		}
	}
}
