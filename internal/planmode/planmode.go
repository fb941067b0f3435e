// Package planmode drives the state machine around "exit plan mode" tool
// responses: applying staged execution-mode changes and, when the client
// asks for a clean context, tearing the session down and respawning it
// while salvaging plan artifacts.
package planmode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/protocol"
	"github.com/parley-dev/parley/internal/store"
)

// planMessagePrefix introduces the approved plan when it is re-sent into a
// fresh session after a clear-context escalation.
const planMessagePrefix = "Implement the following plan:\n\n"

// SessionControl is the slice of the orchestrator the handler needs to
// manipulate sessions without owning them.
type SessionControl interface {
	IsChatRunning(chatID string) bool
	KillSession(ctx context.Context, chatID string) error
	StartSession(ctx context.Context, chatID string) error
	SendChatMessage(ctx context.Context, chatID, content string) error
	RespondToPermission(chatID, requestID string, resp adapter.PermissionResponse) error
	// ClearMessages wipes the chat's cached and durable message log and
	// broadcasts the corresponding cleared event.
	ClearMessages(ctx context.Context, chatID string) error
	// PushPermissionMode applies a mode change to a live session in place.
	PushPermissionMode(chatID, mode string) error
}

// Handler applies plan-exit transitions.
type Handler struct {
	mu sync.Mutex
	// +checklocks:mu
	staged map[string]string // chat id -> execution mode staged for next exit

	store store.Store
	ctrl  SessionControl
	emit  func(protocol.Event)
	log   *slog.Logger
}

// NewHandler creates a Handler. emit broadcasts daemon events and must be
// non-nil.
func NewHandler(st store.Store, ctrl SessionControl, emit func(protocol.Event)) *Handler {
	return &Handler{
		staged: make(map[string]string),
		store:  st,
		ctrl:   ctrl,
		emit:   emit,
		log:    slog.With("component", "planmode"),
	}
}

// StageMode records an execution mode to apply on the next plan exit that
// doesn't carry one of its own.
func (h *Handler) StageMode(chatID, mode string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.staged[chatID] = mode
}

func (h *Handler) takeStaged(chatID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	mode := h.staged[chatID]
	delete(h.staged, chatID)
	return mode
}

// Clear drops any staged mode for the chat. Called on teardown.
func (h *Handler) Clear(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.staged, chatID)
}

// HandleExit applies an approved plan-exit response. pending is the
// permission request the agent is blocked on, nil when no process is live.
func (h *Handler) HandleExit(ctx context.Context, chatID string, pending *adapter.PermissionRequest, decision protocol.PermissionDecision) error {
	mode := decision.Mode
	if mode == "" {
		mode = h.takeStaged(chatID)
	}
	if mode == "" {
		mode = adapter.ModeDefault
	}

	live := h.ctrl.IsChatRunning(chatID)
	h.log.Info("plan exit", "chat_id", chatID, "mode", mode, "live", live, "clear_context", decision.ClearContext)

	switch {
	case !live:
		// Nothing to talk to; just persist and announce the mode change.
		return h.applyMode(ctx, chatID, mode)

	case decision.ClearContext:
		return h.clearContextEscalation(ctx, chatID, pending, decision, mode)

	default:
		if err := h.applyMode(ctx, chatID, mode); err != nil {
			return err
		}
		return h.ctrl.PushPermissionMode(chatID, mode)
	}
}

// applyMode persists the chat's new permission mode and broadcasts the
// updated record.
func (h *Handler) applyMode(ctx context.Context, chatID, mode string) error {
	chat, err := h.store.UpdateChat(ctx, chatID, store.ChatUpdate{PermissionMode: store.String(mode)})
	if err != nil {
		return fmt.Errorf("persist mode: %w", err)
	}
	h.emit(protocol.Event{Type: protocol.EventChatUpdated, ChatID: chatID, Payload: chat})
	return nil
}

// clearContextEscalation discards the live session and starts over in the
// target mode, carrying the approved plan into the fresh context.
func (h *Handler) clearContextEscalation(ctx context.Context, chatID string, pending *adapter.PermissionRequest, decision protocol.PermissionDecision, mode string) error {
	// The context is about to be wiped; the plan document reference must
	// survive the wipe or the artifact is orphaned.
	h.salvagePlanFile(ctx, chatID)

	// Close the agent's blocked request cleanly before killing it.
	if pending != nil && pending.RequestID != "" {
		err := h.ctrl.RespondToPermission(chatID, pending.RequestID, adapter.PermissionResponse{
			Behavior: adapter.BehaviorDeny,
			Message:  "Plan approved. Restarting the session with a clean context.",
		})
		if err != nil {
			h.log.Warn("deny before restart failed", "chat_id", chatID, "error", err)
		}
	}

	if err := h.ctrl.KillSession(ctx, chatID); err != nil {
		return fmt.Errorf("kill session: %w", err)
	}

	chat, err := h.store.UpdateChat(ctx, chatID, store.ChatUpdate{
		PermissionMode:    store.String(mode),
		ExternalSessionID: store.String(""),
	})
	if err != nil {
		return fmt.Errorf("persist restart state: %w", err)
	}
	h.emit(protocol.Event{Type: protocol.EventChatUpdated, ChatID: chatID, Payload: chat})

	if err := h.ctrl.ClearMessages(ctx, chatID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	if err := h.ctrl.StartSession(ctx, chatID); err != nil {
		return fmt.Errorf("restart session: %w", err)
	}

	if decision.Plan != "" {
		if err := h.ctrl.SendChatMessage(ctx, chatID, planMessagePrefix+decision.Plan); err != nil {
			return fmt.Errorf("send plan: %w", err)
		}
	}
	return nil
}

// salvagePlanFile persists the most recent plan-file path found in the
// chat's message history so it survives the context wipe.
func (h *Handler) salvagePlanFile(ctx context.Context, chatID string) {
	history, err := h.store.ListMessages(ctx, chatID, 0)
	if err != nil {
		h.log.Warn("plan salvage: history read failed", "chat_id", chatID, "error", err)
		return
	}
	for i := len(history) - 1; i >= 0; i-- {
		path, ok := history[i].Meta["plan_file"].(string)
		if !ok || path == "" {
			continue
		}
		title := TitleFromFile(path)
		if err := h.store.AddPlanFile(ctx, chatID, path, title); err != nil {
			h.log.Warn("plan salvage: persist failed", "chat_id", chatID, "path", path, "error", err)
		} else {
			h.log.Info("plan file salvaged", "chat_id", chatID, "path", path, "title", title)
		}
		return
	}
}
