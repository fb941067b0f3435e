package session

import "github.com/parley-dev/parley/internal/adapter"

// Sink receives parsed agent events from a session. All callbacks are
// invoked from the session's read goroutine, in stream order. The chatID
// identifies the owning chat so a single sink can serve many sessions.
type Sink interface {
	// OnInit fires when the agent reports its session identifier.
	OnInit(chatID, sessionID string)

	// OnMessage fires for assistant output and plain user echoes.
	OnMessage(chatID string, ev *adapter.Event)

	// OnToolResult fires for user-role events carrying tool_result blocks.
	OnToolResult(chatID string, ev *adapter.Event)

	// OnPermission fires when the agent asks to use a tool.
	OnPermission(chatID string, req adapter.PermissionRequest)

	// OnResult fires at the end of a turn.
	OnResult(chatID string, res adapter.ResultSummary)

	// OnCompact fires when the agent compacts its context window.
	OnCompact(chatID string)

	// OnPlanFile fires when the agent writes a plan document.
	OnPlanFile(chatID, path string)

	// OnSkillFile fires when the agent registers a skill file.
	OnSkillFile(chatID string, skill adapter.SkillEntry)

	// OnError fires for malformed stream data or stderr failures worth
	// surfacing. The session keeps running.
	OnError(chatID string, err error)

	// OnExit fires exactly once when the subprocess terminates, after
	// all buffered events have been delivered.
	OnExit(chatID string, err error)
}
