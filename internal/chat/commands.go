package chat

import (
	"context"
	"fmt"

	"github.com/parley-dev/parley/internal/protocol"
)

// HandleCommand executes one validated client command. Subscribe and
// unsubscribe are connection-scoped and handled by the transport layer,
// not here.
func (m *Manager) HandleCommand(ctx context.Context, cmd protocol.Command) error {
	switch cmd.Type {
	case protocol.CmdChatCreate:
		_, err := m.CreateChatWithDefaults(ctx, cmd.ProjectID, cmd.AdapterID, cmd.Model, cmd.PermissionMode)
		return err

	case protocol.CmdChatResume:
		return m.ResumeChat(ctx, cmd.ChatID)

	case protocol.CmdChatEnd:
		return m.EndChat(ctx, cmd.ChatID)

	case protocol.CmdChatInterrupt:
		return m.InterruptChat(ctx, cmd.ChatID)

	case protocol.CmdChatArchive:
		return m.ArchiveChat(ctx, cmd.ChatID)

	case protocol.CmdChatUpdateConfig:
		return m.UpdateChatConfig(ctx, cmd.ChatID, cmd.AdapterID, cmd.Model, cmd.PermissionMode)

	case protocol.CmdMessageSend:
		return m.SendMessage(ctx, cmd.ChatID, cmd.Content)

	case protocol.CmdPermissionRespond:
		return m.HandlePermissionResponse(ctx, cmd.ChatID, *cmd.Response)

	case protocol.CmdChatEnableWorktree:
		return m.EnableWorktree(ctx, cmd.ChatID)

	case protocol.CmdChatDisableWorktree:
		return m.DisableWorktree(ctx, cmd.ChatID)

	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, cmd.Type)
	}
}
