package chat

import (
	"context"
	"fmt"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/protocol"
	"github.com/parley-dev/parley/internal/store"
)

// UpdateChatConfig applies adapter/model/permission-mode changes with the
// least disruption that still takes effect: in-place session calls when
// only model or mode changed on a live session, kill-and-lazy-respawn
// otherwise. An adapter change is refused once the chat has an external
// session id, since an agent CLI session cannot be rebound.
func (m *Manager) UpdateChatConfig(ctx context.Context, chatID, adapterID string, model, mode *string) error {
	chat, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	adapterChanged := adapterID != "" && adapterID != chat.AdapterID
	if adapterChanged && chat.ExternalSessionID != "" {
		return ErrAdapterBoundSession
	}

	upd := store.ChatUpdate{Model: model, PermissionMode: mode}
	if adapterChanged {
		upd.AdapterID = store.String(adapterID)
	}

	// Live session and nothing structural changed: apply in place.
	if !adapterChanged {
		if sess, err := m.liveSession(chatID); err == nil {
			if model != nil && *model != chat.Model {
				if err := sess.SetModel(*model); err != nil {
					return fmt.Errorf("set model: %w", err)
				}
			}
			if mode != nil && *mode != chat.PermissionMode {
				if chat.PermissionMode == adapter.ModePlan && *mode != adapter.ModePlan {
					// Don't yank a planning session out of plan mode
					// mid-turn; the mode takes effect at plan exit.
					m.plan.StageMode(chatID, *mode)
					upd.PermissionMode = nil
				} else if err := sess.SetPermissionMode(*mode); err != nil {
					return fmt.Errorf("set permission mode: %w", err)
				}
			}
			return m.persistConfig(ctx, chatID, upd)
		}
	}

	// Structural change: wait out any in-flight spawn (its failure is the
	// resumer's problem), kill the current session, persist atomically.
	m.awaitPendingSpawn(chatID)
	if m.IsChatRunning(chatID) {
		if err := m.KillSession(ctx, chatID); err != nil {
			return err
		}
	}
	// The next message or resume respawns with the new settings.
	return m.persistConfig(ctx, chatID, upd)
}

// EnableWorktree provisions an isolated working copy for the chat.
// Refused once an external session exists: the agent's context is bound
// to the directory it started in.
func (m *Manager) EnableWorktree(ctx context.Context, chatID string) error {
	chat, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if chat.ExternalSessionID != "" {
		return ErrWorktreeBoundSession
	}
	if chat.WorktreePath != "" {
		return nil
	}
	if m.trees == nil {
		return fmt.Errorf("worktrees are not configured")
	}
	project, err := m.store.GetProject(ctx, chat.ProjectID)
	if err != nil {
		return err
	}

	m.awaitPendingSpawn(chatID)
	if m.IsChatRunning(chatID) {
		if err := m.KillSession(ctx, chatID); err != nil {
			return err
		}
	}

	path, branch, err := m.trees.Create(ctx, project.Path, chatID)
	if err != nil {
		return fmt.Errorf("create worktree: %w", err)
	}
	return m.persistConfig(ctx, chatID, store.ChatUpdate{
		WorktreePath:   store.String(path),
		WorktreeBranch: store.String(branch),
	})
}

// DisableWorktree removes the chat's working copy and returns it to the
// project checkout. Same session guard as EnableWorktree.
func (m *Manager) DisableWorktree(ctx context.Context, chatID string) error {
	chat, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if chat.ExternalSessionID != "" {
		return ErrWorktreeBoundSession
	}
	if chat.WorktreePath == "" {
		return nil
	}
	project, err := m.store.GetProject(ctx, chat.ProjectID)
	if err != nil {
		return err
	}

	m.awaitPendingSpawn(chatID)
	if m.IsChatRunning(chatID) {
		if err := m.KillSession(ctx, chatID); err != nil {
			return err
		}
	}

	if m.trees != nil {
		if err := m.trees.Remove(ctx, project.Path, chat.WorktreePath, chat.WorktreeBranch); err != nil {
			m.log.Warn("worktree removal failed", "chat_id", chatID, "error", err)
		}
	}
	return m.persistConfig(ctx, chatID, store.ChatUpdate{
		WorktreePath:   store.String(""),
		WorktreeBranch: store.String(""),
	})
}

// awaitPendingSpawn blocks until any in-flight spawn for the chat settles,
// swallowing its outcome.
func (m *Manager) awaitPendingSpawn(chatID string) {
	m.mu.RLock()
	op := m.pendingSpawns[chatID]
	m.mu.RUnlock()
	if op != nil {
		<-op.done
	}
}

// persistConfig writes the update, refreshes the snapshot, and broadcasts.
func (m *Manager) persistConfig(ctx context.Context, chatID string, upd store.ChatUpdate) error {
	chat, err := m.store.UpdateChat(ctx, chatID, upd)
	if err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	m.mu.Lock()
	if ac := m.active[chatID]; ac != nil {
		ac.chat = chat
	}
	m.mu.Unlock()
	m.emit(protocol.Event{Type: protocol.EventChatUpdated, ChatID: chatID, Payload: chat})
	return nil
}
