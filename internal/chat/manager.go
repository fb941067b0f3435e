// Package chat is the orchestrator: it owns the map of active chats and
// their sessions, routes subprocess events, and is the only component
// that talks to the persistent store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/display"
	"github.com/parley-dev/parley/internal/event"
	"github.com/parley-dev/parley/internal/msgcache"
	"github.com/parley-dev/parley/internal/permission"
	"github.com/parley-dev/parley/internal/planmode"
	"github.com/parley-dev/parley/internal/protocol"
	"github.com/parley-dev/parley/internal/session"
	"github.com/parley-dev/parley/internal/store"
	"github.com/parley-dev/parley/internal/worktree"
)

// Errors returned by orchestrator operations.
var (
	ErrChatNotFound         = errors.New("chat not found")
	ErrNotRunning           = errors.New("chat has no live session")
	ErrUnknownAdapter       = errors.New("unknown adapter")
	ErrAdapterBoundSession  = errors.New("cannot change adapter after an agent session exists")
	ErrWorktreeBoundSession = errors.New("cannot change worktree after an agent session exists")
)

// activeChat pairs a persisted chat with its live session handle, if any.
// All fields are guarded by the Manager's mutex.
type activeChat struct {
	chat    *store.Chat
	session *session.Session
}

// spawnOp tracks one in-flight spawn so concurrent resumes collapse onto
// it instead of racing to create a second subprocess.
type spawnOp struct {
	done chan struct{}
	err  error
}

// Manager is the orchestrator. It implements session.Sink and
// planmode.SessionControl.
type Manager struct {
	mu sync.RWMutex

	// +checklocks:mu
	active map[string]*activeChat
	// +checklocks:mu
	procIndex map[int]string // subprocess pid -> chat id
	// +checklocks:mu
	pendingSpawns map[string]*spawnOp

	store    store.Store
	cfg      *config.Config
	perms    *permission.Manager
	cache    *msgcache.Cache
	pipeline *display.Pipeline
	plan     *planmode.Handler
	trees    worktree.Provisioner
	cats     adapter.Categories
	events   *event.Emitter[protocol.Event]
	log      *slog.Logger
}

var (
	_ session.Sink            = (*Manager)(nil)
	_ planmode.SessionControl = (*Manager)(nil)
)

// NewManager wires the orchestrator. cats configures display grouping and
// may be nil; trees may be nil to disable worktrees.
func NewManager(st store.Store, cfg *config.Config, trees worktree.Provisioner, cats adapter.Categories) *Manager {
	m := &Manager{
		active:        make(map[string]*activeChat),
		procIndex:     make(map[int]string),
		pendingSpawns: make(map[string]*spawnOp),
		store:         st,
		cfg:           cfg,
		cache:         msgcache.New(cfg.MessageCacheCap(), cfg.ChatCacheCap()),
		pipeline:      display.NewPipeline(cats),
		trees:         trees,
		cats:          cats,
		events:        event.NewEmitter[protocol.Event](),
		log:           slog.With("component", "chat"),
	}
	m.perms = permission.NewManager(m.permissionModeOf)
	m.plan = planmode.NewHandler(st, m, m.emit)
	return m
}

// OnEvent registers a handler for daemon events. Handlers run on the
// emitting goroutine and must not block.
func (m *Manager) OnEvent(fn func(protocol.Event)) {
	m.events.OnEvent(fn)
}

// Permissions exposes the permission manager for read-side queries.
func (m *Manager) Permissions() *permission.Manager { return m.perms }

func (m *Manager) emit(ev protocol.Event) {
	m.events.Emit(ev)
}

// permissionModeOf reports the chat's current permission mode, preferring
// the in-memory snapshot over a store round trip.
func (m *Manager) permissionModeOf(chatID string) string {
	m.mu.RLock()
	ac := m.active[chatID]
	m.mu.RUnlock()
	if ac != nil && ac.chat != nil {
		return ac.chat.PermissionMode
	}
	chat, err := m.store.GetChat(context.Background(), chatID)
	if err != nil {
		return ""
	}
	return chat.PermissionMode
}

// CreateChatWithDefaults persists a new chat row. No subprocess is
// spawned; the first resume or message does that lazily.
func (m *Manager) CreateChatWithDefaults(ctx context.Context, projectID, adapterID string, model, mode *string) (*store.Chat, error) {
	if _, err := adapter.Get(adapterID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, adapterID)
	}
	if _, err := m.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}

	chat := &store.Chat{
		ProjectID: projectID,
		AdapterID: adapterID,
		Model:     m.cfg.AdapterDefaultModel(adapterID),
	}
	if model != nil {
		chat.Model = *model
	}
	if mode != nil {
		chat.PermissionMode = *mode
	}
	if err := m.store.CreateChat(ctx, chat); err != nil {
		return nil, err
	}

	m.log.Info("chat created", "chat_id", chat.ID, "project_id", projectID, "adapter", adapterID)
	m.emit(protocol.Event{Type: protocol.EventChatCreated, ChatID: chat.ID, Payload: chat})
	return chat, nil
}

// ResumeChat ensures the chat has a live session, spawning one lazily.
// Concurrent resumes for the same chat collapse onto a single in-flight
// spawn so no chat ever gets two subprocesses.
func (m *Manager) ResumeChat(ctx context.Context, chatID string) error {
	m.mu.Lock()
	if op, ok := m.pendingSpawns[chatID]; ok {
		m.mu.Unlock()
		<-op.done
		return op.err
	}
	if ac := m.active[chatID]; ac != nil && ac.session != nil {
		m.mu.Unlock()
		return nil
	}
	op := &spawnOp{done: make(chan struct{})}
	m.pendingSpawns[chatID] = op
	m.mu.Unlock()

	op.err = m.spawn(ctx, chatID)

	m.mu.Lock()
	delete(m.pendingSpawns, chatID)
	m.mu.Unlock()
	close(op.done)
	return op.err
}

// spawn starts the subprocess for a chat and registers it. Callers must
// hold the chat's pendingSpawns slot.
func (m *Manager) spawn(ctx context.Context, chatID string) error {
	chat, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	ad, err := adapter.Get(chat.AdapterID)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownAdapter, chat.AdapterID)
	}
	project, err := m.store.GetProject(ctx, chat.ProjectID)
	if err != nil {
		return fmt.Errorf("project %s: %w", chat.ProjectID, err)
	}

	workDir := project.Path
	if chat.WorktreePath != "" {
		workDir = chat.WorktreePath
	}

	sess, err := session.Spawn(chatID, ad, adapter.CommandConfig{
		Binary:          m.cfg.AdapterBinary(chat.AdapterID),
		WorkDir:         workDir,
		ChatID:          chatID,
		Model:           chat.Model,
		PermissionMode:  chat.PermissionMode,
		ResumeSessionID: chat.ExternalSessionID,
	}, m)
	if err != nil {
		return fmt.Errorf("spawn session: %w", err)
	}

	chat, err = m.store.UpdateChat(ctx, chatID, store.ChatUpdate{
		ProcessState: store.String(store.ProcessStarting),
	})
	if err != nil {
		m.log.Warn("persist process state failed", "chat_id", chatID, "error", err)
	}

	m.mu.Lock()
	m.active[chatID] = &activeChat{chat: chat, session: sess}
	m.procIndex[sess.PID()] = chatID
	m.mu.Unlock()

	m.emit(protocol.Event{Type: protocol.EventProcessStarted, ChatID: chatID, Payload: map[string]any{"pid": sess.PID()}})
	m.emit(protocol.Event{Type: protocol.EventChatUpdated, ChatID: chatID, Payload: chat})

	m.seedHistory(ctx, chatID)
	return nil
}

// seedHistory loads durable history into the cache on first spawn and
// reinstates any permission prompt lost to a crash or restart.
func (m *Manager) seedHistory(ctx context.Context, chatID string) {
	history, err := m.store.ListMessages(ctx, chatID, m.cfg.MessageCacheCap())
	if err != nil {
		m.log.Warn("history load failed", "chat_id", chatID, "error", err)
		return
	}
	if !m.cache.Has(chatID) {
		m.cache.Replace(chatID, history)
	}
	m.perms.RestorePendingPermission(chatID, history)
	if pending := m.perms.GetPending(chatID); pending != nil {
		m.emit(protocol.Event{Type: protocol.EventPermissionRequested, ChatID: chatID, Payload: pending})
	}
}

// IsChatRunning reports whether the chat has a live session handle.
func (m *Manager) IsChatRunning(chatID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ac := m.active[chatID]
	return ac != nil && ac.session != nil
}

// liveSession returns the chat's session or ErrNotRunning.
func (m *Manager) liveSession(chatID string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ac := m.active[chatID]
	if ac == nil || ac.session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, chatID)
	}
	return ac.session, nil
}

// SendMessage delivers a user message to the chat's agent, spawning the
// session first if needed. The message is recorded in the durable log and
// the display view before the agent sees it.
func (m *Manager) SendMessage(ctx context.Context, chatID, content string) error {
	if err := m.ResumeChat(ctx, chatID); err != nil {
		return err
	}
	sess, err := m.liveSession(chatID)
	if err != nil {
		return err
	}

	m.recordMessage(ctx, &store.ChatMessage{
		ChatID: chatID,
		Type:   store.MessageUser,
		Blocks: []adapter.ContentBlock{{Type: "text", Text: content}},
	})
	m.recordMentions(ctx, chatID, content)
	m.perms.ClearInterrupted(chatID)

	if err := sess.SendMessage(content); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	m.persistState(ctx, chatID, store.ProcessRunning)
	return nil
}

// SendCommand delivers an internal control-channel message to the agent.
// It is logged as a command entry, which the display pipeline filters out.
func (m *Manager) SendCommand(ctx context.Context, chatID, content string) error {
	sess, err := m.liveSession(chatID)
	if err != nil {
		return err
	}
	m.recordMessage(ctx, &store.ChatMessage{
		ChatID: chatID,
		Type:   store.MessageCommand,
		Blocks: []adapter.ContentBlock{{Type: "text", Text: content}},
	})
	return sess.SendMessage(content)
}

// InterruptChat asks the agent to abandon the current turn.
func (m *Manager) InterruptChat(ctx context.Context, chatID string) error {
	sess, err := m.liveSession(chatID)
	if err != nil {
		return err
	}
	if err := sess.Interrupt(); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	m.perms.MarkInterrupted(chatID)
	return nil
}

// EndChat tears the chat down: the subprocess is killed and awaited, the
// reverse index and active entry removed, and queued permissions dropped.
func (m *Manager) EndChat(ctx context.Context, chatID string) error {
	if err := m.KillSession(ctx, chatID); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}

	m.mu.Lock()
	delete(m.active, chatID)
	m.mu.Unlock()

	m.perms.ClearChat(chatID)
	m.plan.Clear(chatID)
	m.pipeline.Forget(chatID)

	m.emit(protocol.Event{Type: protocol.EventChatEnded, ChatID: chatID})
	m.log.Info("chat ended", "chat_id", chatID)
	return nil
}

// ArchiveChat ends the chat and marks the row archived.
func (m *Manager) ArchiveChat(ctx context.Context, chatID string) error {
	if err := m.EndChat(ctx, chatID); err != nil {
		return err
	}
	if err := m.store.ArchiveChat(ctx, chatID); err != nil {
		return err
	}
	chat, err := m.store.GetChat(ctx, chatID)
	if err == nil {
		m.emit(protocol.Event{Type: protocol.EventChatUpdated, ChatID: chatID, Payload: chat})
	}
	return nil
}

// RemoveProject kills every live session belonging to the project and
// removes their tracking entries strictly before the persistent cascade
// delete. The other order leaks a running process with no tracking entry.
func (m *Manager) RemoveProject(ctx context.Context, projectID string) error {
	chats, err := m.store.ListChats(ctx, projectID)
	if err != nil {
		return err
	}

	for _, chat := range chats {
		if m.IsChatRunning(chat.ID) {
			if err := m.KillSession(ctx, chat.ID); err != nil {
				return fmt.Errorf("kill chat %s: %w", chat.ID, err)
			}
		}
		m.mu.Lock()
		delete(m.active, chat.ID)
		m.mu.Unlock()
		m.perms.ClearChat(chat.ID)
		m.plan.Clear(chat.ID)
		m.pipeline.Forget(chat.ID)
		m.cache.Clear(chat.ID)
		m.emit(protocol.Event{Type: protocol.EventChatEnded, ChatID: chat.ID})
	}

	if err := m.store.RemoveProjectWithChats(ctx, projectID); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}
	m.log.Info("project removed", "project_id", projectID, "chats", len(chats))
	return nil
}

// KillSession stops the chat's subprocess, awaits its exit, and removes
// the reverse index entry. The active entry survives so the chat can be
// respawned. Implements planmode.SessionControl.
func (m *Manager) KillSession(ctx context.Context, chatID string) error {
	m.mu.Lock()
	ac := m.active[chatID]
	if ac == nil || ac.session == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, chatID)
	}
	sess := ac.session
	ac.session = nil
	m.mu.Unlock()

	// The reverse index stays live until the process is confirmed dead, so
	// lookups by PID keep resolving while the stop is in flight.
	err := sess.Stop(session.StopTimeout)

	m.mu.Lock()
	delete(m.procIndex, sess.PID())
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	m.persistState(ctx, chatID, store.ProcessStopped)
	m.emit(protocol.Event{Type: protocol.EventProcessStopped, ChatID: chatID})
	return nil
}

// StartSession spawns a fresh subprocess for the chat. Implements
// planmode.SessionControl.
func (m *Manager) StartSession(ctx context.Context, chatID string) error {
	return m.ResumeChat(ctx, chatID)
}

// SendChatMessage implements planmode.SessionControl.
func (m *Manager) SendChatMessage(ctx context.Context, chatID, content string) error {
	return m.SendMessage(ctx, chatID, content)
}

// RespondToPermission forwards a permission response to the live session.
// Implements planmode.SessionControl.
func (m *Manager) RespondToPermission(chatID, requestID string, resp adapter.PermissionResponse) error {
	sess, err := m.liveSession(chatID)
	if err != nil {
		return err
	}
	return sess.RespondToPermission(requestID, resp)
}

// PushPermissionMode applies a mode change to a live session in place.
// Implements planmode.SessionControl.
func (m *Manager) PushPermissionMode(chatID, mode string) error {
	sess, err := m.liveSession(chatID)
	if err != nil {
		return err
	}
	return sess.SetPermissionMode(mode)
}

// ClearMessages wipes the chat's cached and durable message log.
// Implements planmode.SessionControl.
func (m *Manager) ClearMessages(ctx context.Context, chatID string) error {
	if err := m.store.DeleteMessages(ctx, chatID); err != nil {
		return err
	}
	m.cache.Clear(chatID)
	m.pipeline.Forget(chatID)
	m.emit(protocol.Event{Type: protocol.EventMessagesCleared, ChatID: chatID})
	return nil
}

// HandlePermissionResponse resolves the chat's pending permission prompt.
// Plan-exit approvals route through the plan-mode state machine; all other
// responses go straight to the session. The next queued request, if any,
// is broadcast as a fresh prompt.
func (m *Manager) HandlePermissionResponse(ctx context.Context, chatID string, decision protocol.PermissionDecision) error {
	pending := m.perms.GetPending(chatID)
	if pending == nil {
		return fmt.Errorf("no pending permission for chat %s", chatID)
	}

	if pending.ToolName == adapter.ExitPlanModeTool && decision.Behavior == adapter.BehaviorAllow {
		if err := m.plan.HandleExit(ctx, chatID, pending, decision); err != nil {
			return err
		}
	} else if pending.RequestID != "" {
		resp := adapter.PermissionResponse{
			Behavior:     decision.Behavior,
			Message:      decision.Message,
			UpdatedInput: decision.UpdatedInput,
		}
		if err := m.RespondToPermission(chatID, pending.RequestID, resp); err != nil {
			return err
		}
	}

	if next := m.perms.Shift(chatID); next != nil {
		m.emit(protocol.Event{Type: protocol.EventPermissionRequested, ChatID: chatID, Payload: next})
	}
	return nil
}

// ChatForProcess resolves the owning chat for a subprocess pid.
func (m *Manager) ChatForProcess(pid int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chatID, ok := m.procIndex[pid]
	return chatID, ok
}

// DisplayMessages returns the chat's current rendered view as deltas
// against nothing, used to answer a fresh subscription.
func (m *Manager) DisplayMessages(ctx context.Context, chatID string) []display.Message {
	raw := m.cache.Get(chatID)
	if raw == nil {
		history, err := m.store.ListMessages(ctx, chatID, m.cfg.MessageCacheCap())
		if err == nil {
			m.cache.Replace(chatID, history)
			raw = history
		}
	}
	return display.Prepare(raw, m.cats)
}

// Shutdown stops every live session. Called on daemon exit.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	var ids []string
	for id, ac := range m.active {
		if ac.session != nil {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.KillSession(ctx, id); err != nil {
			m.log.Warn("shutdown kill failed", "chat_id", id, "error", err)
		}
	}
}

// persistState updates the chat's process state and refreshes the cached
// snapshot.
func (m *Manager) persistState(ctx context.Context, chatID, state string) {
	chat, err := m.store.UpdateChat(ctx, chatID, store.ChatUpdate{ProcessState: store.String(state)})
	if err != nil {
		m.log.Warn("persist process state failed", "chat_id", chatID, "state", state, "error", err)
		return
	}
	m.mu.Lock()
	if ac := m.active[chatID]; ac != nil {
		ac.chat = chat
	}
	m.mu.Unlock()
	m.emit(protocol.Event{Type: protocol.EventChatUpdated, ChatID: chatID, Payload: chat})
}
