// Package gateway serves the daemon's WebSocket endpoint: it validates
// inbound client commands, tracks per-connection chat subscriptions, and
// fans daemon events out to subscribers without ever blocking on a slow
// client.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parley-dev/parley/internal/chat"
	"github.com/parley-dev/parley/internal/protocol"
)

// sendBuffer bounds the per-connection outbound queue. A client that
// falls further behind than this starts losing events.
const sendBuffer = 256

// Server is the WebSocket gateway. It implements http.Handler.
type Server struct {
	mgr      *chat.Manager
	upgrader websocket.Upgrader
	log      *slog.Logger

	mu sync.Mutex
	// +checklocks:mu
	conns map[*conn]struct{}
}

// conn is one client connection.
type conn struct {
	ws   *websocket.Conn
	send chan protocol.Event

	mu sync.Mutex
	// +checklocks:mu
	subs map[string]struct{}
}

// New creates the gateway and wires it to the orchestrator's event stream.
func New(mgr *chat.Manager) *Server {
	s := &Server{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			// Local daemon; clients connect from the same machine.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
		log:   slog.With("component", "gateway"),
	}
	mgr.OnEvent(s.Broadcast)
	return s
}

// ServeHTTP upgrades the request and runs the connection's read loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}

	c := &conn{
		ws:   ws,
		send: make(chan protocol.Event, sendBuffer),
		subs: make(map[string]struct{}),
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.log.Debug("client connected", "remote", ws.RemoteAddr())

	go c.writePump(s.log)
	s.readPump(r.Context(), c)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	close(c.send)
	ws.Close()
	s.log.Debug("client disconnected", "remote", ws.RemoteAddr())
}

// readPump decodes and executes commands until the connection drops. A bad
// command yields a structured error frame, never a dropped socket.
func (s *Server) readPump(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var cmd protocol.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.trySend(protocol.ErrorEvent("", "malformed command: not valid JSON"))
			continue
		}
		if err := cmd.Validate(); err != nil {
			c.trySend(protocol.ErrorEvent(cmd.ChatID, err.Error()))
			continue
		}

		switch cmd.Type {
		case protocol.CmdSubscribe:
			s.subscribe(ctx, c, cmd.ChatID)
		case protocol.CmdUnsubscribe:
			c.mu.Lock()
			delete(c.subs, cmd.ChatID)
			c.mu.Unlock()
		default:
			s.dispatch(ctx, c, cmd)
		}
	}
}

// dispatch runs one command behind the single recovery boundary: a panic
// becomes a generic error frame with no internal detail.
func (s *Server) dispatch(ctx context.Context, c *conn, cmd protocol.Command) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in command handler", "command", cmd.Type, "panic", r)
			c.trySend(protocol.ErrorEvent(cmd.ChatID, "internal error"))
		}
	}()

	if err := s.mgr.HandleCommand(ctx, cmd); err != nil {
		c.trySend(protocol.ErrorEvent(cmd.ChatID, err.Error()))
	}
}

// subscribe registers interest in a chat and sends the current view so
// the client doesn't start from a blank screen.
func (s *Server) subscribe(ctx context.Context, c *conn, chatID string) {
	c.mu.Lock()
	c.subs[chatID] = struct{}{}
	c.mu.Unlock()

	msgs := s.mgr.DisplayMessages(ctx, chatID)
	c.trySend(protocol.Event{Type: protocol.EventDisplaySet, ChatID: chatID, Payload: msgs})
	if pending := s.mgr.Permissions().GetPending(chatID); pending != nil {
		c.trySend(protocol.Event{Type: protocol.EventPermissionRequested, ChatID: chatID, Payload: pending})
	}
}

// Broadcast fans one event out. Events without a chat id go to every
// connection; events with one go only to subscribers. Sends never block:
// a full queue drops the event for that connection.
func (s *Server) Broadcast(ev protocol.Event) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if ev.ChatID != "" && !c.subscribed(ev.ChatID) {
			continue
		}
		c.trySend(ev)
	}
}

// Close tears down every connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

func (c *conn) subscribed(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[chatID]
	return ok
}

// trySend queues an event without blocking. Drops are deliberate: a stuck
// client must not stall the daemon's fan-out loop.
func (c *conn) trySend(ev protocol.Event) {
	defer func() {
		// Send on a closed channel races with connection teardown; losing
		// an event to a closing connection is fine.
		_ = recover()
	}()
	select {
	case c.send <- ev:
	default:
	}
}

// writePump drains the send queue onto the socket.
func (c *conn) writePump(log *slog.Logger) {
	for ev := range c.send {
		if err := c.ws.WriteJSON(ev); err != nil {
			log.Debug("write failed", "error", err)
			return
		}
	}
}
