package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-dev/parley/internal/chat"
	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/protocol"
	"github.com/parley-dev/parley/internal/store"
)

func setupServer(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := chat.NewManager(st, &config.Config{}, nil, nil)
	srv := New(mgr)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return srv, ws
}

func readEvent(t *testing.T, ws *websocket.Conn) protocol.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev protocol.Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestMalformedJSONGetsErrorFrame(t *testing.T) {
	_, ws := setupServer(t)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, ws)
	if ev.Type != protocol.EventError {
		t.Fatalf("event = %+v, want error frame", ev)
	}

	// The connection survives and keeps handling commands.
	if err := ws.WriteJSON(protocol.Command{Type: "chat.levitate"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev = readEvent(t, ws)
	if ev.Type != protocol.EventError {
		t.Fatalf("event = %+v, want error frame for unknown command", ev)
	}
}

func TestCommandErrorsAreStructured(t *testing.T) {
	_, ws := setupServer(t)

	// Valid shape, but the chat doesn't exist.
	if err := ws.WriteJSON(protocol.Command{Type: protocol.CmdChatResume, ChatID: "missing"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, ws)
	if ev.Type != protocol.EventError || ev.ChatID != "missing" {
		t.Fatalf("event = %+v, want scoped error frame", ev)
	}
}

func TestSubscribeSendsSnapshot(t *testing.T) {
	_, ws := setupServer(t)

	if err := ws.WriteJSON(protocol.Command{Type: protocol.CmdSubscribe, ChatID: "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, ws)
	if ev.Type != protocol.EventDisplaySet || ev.ChatID != "c1" {
		t.Fatalf("event = %+v, want display set snapshot", ev)
	}
}

func TestBroadcastScoping(t *testing.T) {
	srv, subscribed := setupServer(t)

	// Second connection with no subscriptions.
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	other, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { other.Close() })

	if err := subscribed.WriteJSON(protocol.Command{Type: protocol.CmdSubscribe, ChatID: "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readEvent(t, subscribed) // snapshot

	// Chat-scoped event reaches only the subscriber.
	srv.Broadcast(protocol.Event{Type: protocol.EventChatUpdated, ChatID: "c1"})
	ev := readEvent(t, subscribed)
	if ev.Type != protocol.EventChatUpdated {
		t.Fatalf("subscriber got %+v", ev)
	}

	// Unscoped event reaches everyone, including the non-subscriber; the
	// scoped event above must not have been queued for it.
	srv.Broadcast(protocol.Event{Type: protocol.EventChatCreated})
	ev = readEvent(t, other)
	if ev.Type != protocol.EventChatCreated {
		t.Fatalf("non-subscriber got %+v, want only the unscoped event", ev)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv, ws := setupServer(t)

	if err := ws.WriteJSON(protocol.Command{Type: protocol.CmdSubscribe, ChatID: "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readEvent(t, ws) // snapshot
	if err := ws.WriteJSON(protocol.Command{Type: protocol.CmdUnsubscribe, ChatID: "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Give the read loop a moment to process the unsubscribe.
	time.Sleep(50 * time.Millisecond)

	srv.Broadcast(protocol.Event{Type: protocol.EventChatUpdated, ChatID: "c1"})
	srv.Broadcast(protocol.Event{Type: protocol.EventChatCreated})

	ev := readEvent(t, ws)
	if ev.Type != protocol.EventChatCreated {
		t.Fatalf("got %+v, want only the unscoped event after unsubscribe", ev)
	}
}

func TestEventPayloadRoundTrip(t *testing.T) {
	srv, ws := setupServer(t)

	if err := ws.WriteJSON(protocol.Command{Type: protocol.CmdSubscribe, ChatID: "c1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readEvent(t, ws) // snapshot

	srv.Broadcast(protocol.Event{
		Type:    protocol.EventPermissionRequested,
		ChatID:  "c1",
		Payload: map[string]string{"toolName": "Bash"},
	})
	ev := readEvent(t, ws)
	raw, _ := json.Marshal(ev.Payload)
	if !strings.Contains(string(raw), "Bash") {
		t.Errorf("payload = %s", raw)
	}
}
