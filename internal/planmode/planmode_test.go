package planmode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/protocol"
	"github.com/parley-dev/parley/internal/store"
)

type fakeControl struct {
	running bool
	calls   []string
	sent    []string
	denied  []string
	pushed  []string
}

func (f *fakeControl) IsChatRunning(string) bool { return f.running }

func (f *fakeControl) KillSession(context.Context, string) error {
	f.calls = append(f.calls, "kill")
	return nil
}

func (f *fakeControl) StartSession(context.Context, string) error {
	f.calls = append(f.calls, "start")
	return nil
}

func (f *fakeControl) SendChatMessage(_ context.Context, _ string, content string) error {
	f.calls = append(f.calls, "send")
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeControl) RespondToPermission(_, requestID string, resp adapter.PermissionResponse) error {
	f.calls = append(f.calls, "respond")
	f.denied = append(f.denied, requestID+":"+resp.Behavior)
	return nil
}

func (f *fakeControl) ClearMessages(context.Context, string) error {
	f.calls = append(f.calls, "clear")
	return nil
}

func (f *fakeControl) PushPermissionMode(_ string, mode string) error {
	f.calls = append(f.calls, "push")
	f.pushed = append(f.pushed, mode)
	return nil
}

func setup(t *testing.T) (*Handler, *fakeControl, *store.SQLiteStore, string, *[]protocol.Event) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	p := &store.Project{Name: "demo", Path: t.TempDir()}
	if err := st.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	chat := &store.Chat{ProjectID: p.ID, AdapterID: "claude", PermissionMode: adapter.ModePlan}
	if err := st.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	var events []protocol.Event
	ctrl := &fakeControl{}
	h := NewHandler(st, ctrl, func(ev protocol.Event) { events = append(events, ev) })
	return h, ctrl, st, chat.ID, &events
}

func TestExitWithoutLiveProcess(t *testing.T) {
	h, ctrl, st, chatID, events := setup(t)
	ctx := context.Background()

	err := h.HandleExit(ctx, chatID, nil, protocol.PermissionDecision{Behavior: "allow", Mode: adapter.ModeAcceptEdits})
	if err != nil {
		t.Fatalf("HandleExit: %v", err)
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("no session calls expected, got %v", ctrl.calls)
	}
	chat, _ := st.GetChat(ctx, chatID)
	if chat.PermissionMode != adapter.ModeAcceptEdits {
		t.Errorf("mode = %q, want acceptEdits", chat.PermissionMode)
	}
	if len(*events) != 1 || (*events)[0].Type != protocol.EventChatUpdated {
		t.Errorf("events = %v", *events)
	}
}

func TestExitUsesStagedMode(t *testing.T) {
	h, _, st, chatID, _ := setup(t)
	ctx := context.Background()

	h.StageMode(chatID, adapter.ModeYolo)
	if err := h.HandleExit(ctx, chatID, nil, protocol.PermissionDecision{Behavior: "allow"}); err != nil {
		t.Fatalf("HandleExit: %v", err)
	}
	chat, _ := st.GetChat(ctx, chatID)
	if chat.PermissionMode != adapter.ModeYolo {
		t.Errorf("mode = %q, want staged yolo", chat.PermissionMode)
	}

	// The staged mode is one-shot; the next exit defaults.
	if err := h.HandleExit(ctx, chatID, nil, protocol.PermissionDecision{Behavior: "allow"}); err != nil {
		t.Fatalf("HandleExit: %v", err)
	}
	chat, _ = st.GetChat(ctx, chatID)
	if chat.PermissionMode != adapter.ModeDefault {
		t.Errorf("mode = %q, want default", chat.PermissionMode)
	}
}

func TestNormalEscalationPushesLiveMode(t *testing.T) {
	h, ctrl, _, chatID, _ := setup(t)
	ctrl.running = true

	err := h.HandleExit(context.Background(), chatID, nil, protocol.PermissionDecision{Behavior: "allow", Mode: adapter.ModeDefault})
	if err != nil {
		t.Fatalf("HandleExit: %v", err)
	}
	if len(ctrl.pushed) != 1 || ctrl.pushed[0] != adapter.ModeDefault {
		t.Errorf("pushed = %v", ctrl.pushed)
	}
	for _, c := range ctrl.calls {
		if c == "kill" || c == "start" {
			t.Errorf("normal escalation must not restart the session: %v", ctrl.calls)
		}
	}
}

func TestClearContextEscalation(t *testing.T) {
	h, ctrl, st, chatID, _ := setup(t)
	ctx := context.Background()
	ctrl.running = true

	// Seed an external session id and a plan-file reference in history.
	if _, err := st.UpdateChat(ctx, chatID, store.ChatUpdate{ExternalSessionID: store.String("sess-1")}); err != nil {
		t.Fatalf("UpdateChat: %v", err)
	}
	planPath := filepath.Join(t.TempDir(), "plan.md")
	if err := os.WriteFile(planPath, []byte("# Refactor the parser\n\ndetails"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := st.AppendMessage(ctx, &store.ChatMessage{
		ChatID: chatID,
		Type:   store.MessageSystem,
		Meta:   map[string]any{"plan_file": planPath},
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	pending := &adapter.PermissionRequest{RequestID: "req-1", ToolName: adapter.ExitPlanModeTool}
	err = h.HandleExit(ctx, chatID, pending, protocol.PermissionDecision{
		Behavior:     "allow",
		Mode:         adapter.ModeAcceptEdits,
		ClearContext: true,
		Plan:         "1. do it",
	})
	if err != nil {
		t.Fatalf("HandleExit: %v", err)
	}

	want := []string{"respond", "kill", "clear", "start", "send"}
	if strings.Join(ctrl.calls, ",") != strings.Join(want, ",") {
		t.Errorf("call order = %v, want %v", ctrl.calls, want)
	}
	if ctrl.denied[0] != "req-1:deny" {
		t.Errorf("denied = %v", ctrl.denied)
	}
	if !strings.HasPrefix(ctrl.sent[0], "Implement the following plan:\n\n") {
		t.Errorf("sent = %q", ctrl.sent[0])
	}

	chat, _ := st.GetChat(ctx, chatID)
	if chat.ExternalSessionID != "" {
		t.Errorf("external session id = %q, want reset", chat.ExternalSessionID)
	}
	if chat.PermissionMode != adapter.ModeAcceptEdits {
		t.Errorf("mode = %q", chat.PermissionMode)
	}

	plans, err := st.ListPlanFiles(ctx, chatID)
	if err != nil || len(plans) != 1 || plans[0] != planPath {
		t.Errorf("plan files = %v (%v)", plans, err)
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"h1", "# Refactor the parser\n\nbody", "Refactor the parser"},
		{"h2 first", "intro\n\n## Step one\n", "Step one"},
		{"no heading", "just prose\n", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTitle([]byte(tt.source)); got != tt.want {
				t.Errorf("ExtractTitle = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTitleFromFileFallback(t *testing.T) {
	// Missing file falls back to the base name.
	if got := TitleFromFile("/nonexistent/big-plan.md"); got != "big-plan" {
		t.Errorf("TitleFromFile = %q, want big-plan", got)
	}
}
