// Package session runs a single agent CLI subprocess for one chat and
// translates its newline-delimited JSON stream into sink callbacks.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/id"
	"github.com/parley-dev/parley/internal/logging"
)

// Errors returned by session operations.
var (
	ErrNotRunning = errors.New("session is not running")
	ErrStopping   = errors.New("session is stopping")
)

// StopTimeout is how long Stop waits for graceful exit before SIGKILL.
const StopTimeout = 5 * time.Second

// Status is the lifecycle state of the subprocess.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Session owns one agent subprocess. It is created running via Spawn and
// cannot be restarted; the chat layer spawns a fresh session instead.
type Session struct {
	mu sync.RWMutex

	chatID  string
	adapter adapter.Adapter
	sink    Sink
	log     *slog.Logger

	// +checklocks:mu
	status Status
	// +checklocks:mu
	stdin io.WriteCloser
	// +checklocks:mu
	sessionID string
	// +checklocks:mu
	stopping bool

	cmd  *exec.Cmd
	done chan struct{}
}

// Spawn builds and starts the subprocess for the given chat. The sink
// begins receiving events immediately; OnExit fires when the process
// terminates for any reason.
func Spawn(chatID string, a adapter.Adapter, cfg adapter.CommandConfig, sink Sink) (*Session, error) {
	log := slog.With("component", "session", "chat_id", chatID, "adapter", a.ID())

	if cfg.WorkDir != "" {
		if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}

	cmd, err := a.BuildCommand(cfg)
	if err != nil {
		return nil, fmt.Errorf("build command: %w", err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}
	log.Info("session started", "pid", cmd.Process.Pid, "cmd", cmd.Path)

	s := &Session{
		chatID:  chatID,
		adapter: a,
		sink:    sink,
		log:     log,
		status:  StatusStarting,
		stdin:   stdin,
		cmd:     cmd,
		done:    make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readStdout(stdout, &readers)
	go s.readStderr(stderr, &readers)
	go s.wait(&readers)

	return s, nil
}

// ChatID returns the owning chat's identifier.
func (s *Session) ChatID() string { return s.chatID }

// PID returns the subprocess PID.
func (s *Session) PID() int { return s.cmd.Process.Pid }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SessionID returns the external session identifier reported by the
// agent's init event, or "" before init.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Done is closed once the subprocess has exited and OnExit has fired.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// SendMessage writes a user message frame to the subprocess stdin.
func (s *Session) SendMessage(content string) error {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()

	data, err := s.adapter.FormatUserMessage(content, sessionID)
	if err != nil {
		return fmt.Errorf("format message: %w", err)
	}
	if err := s.write(data); err != nil {
		return err
	}
	s.setStatus(StatusRunning)
	return nil
}

// Control sends a control frame (interrupt, model change, permission mode
// change, permission response) to the subprocess.
func (s *Session) Control(req adapter.ControlRequest) error {
	if req.RequestID == "" {
		req.RequestID = id.Generate()
	}
	data, err := s.adapter.FormatControl(req)
	if err != nil {
		return err
	}
	return s.write(data)
}

// Interrupt asks the agent to abandon the current turn.
func (s *Session) Interrupt() error {
	return s.Control(adapter.ControlRequest{Kind: adapter.ControlInterrupt})
}

// SetModel switches the agent's model in place.
func (s *Session) SetModel(model string) error {
	return s.Control(adapter.ControlRequest{Kind: adapter.ControlSetModel, Model: model})
}

// SetPermissionMode switches the agent's permission mode in place.
func (s *Session) SetPermissionMode(mode string) error {
	return s.Control(adapter.ControlRequest{Kind: adapter.ControlSetPermissionMode, Mode: mode})
}

// RespondToPermission answers a pending tool-use request.
func (s *Session) RespondToPermission(requestID string, resp adapter.PermissionResponse) error {
	return s.Control(adapter.ControlRequest{
		Kind:      adapter.ControlPermissionResponse,
		RequestID: requestID,
		Response:  &resp,
	})
}

func (s *Session) write(data []byte) error {
	s.mu.RLock()
	stdin := s.stdin
	stopping := s.stopping
	s.mu.RUnlock()

	if stopping {
		return ErrStopping
	}
	if stdin == nil {
		return ErrNotRunning
	}
	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// Stop terminates the subprocess: SIGTERM, then SIGKILL after timeout.
// It returns once the process has exited. Stop is idempotent.
func (s *Session) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.stopping = true
	stdin := s.stdin
	s.stdin = nil
	s.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}

	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process already gone; the wait goroutine will finish up.
		<-s.done
		return nil
	}

	select {
	case <-s.done:
	case <-time.After(timeout):
		s.log.Debug("session did not exit gracefully, sending SIGKILL", "timeout", timeout)
		_ = s.cmd.Process.Kill()
		<-s.done
	}
	return nil
}

func (s *Session) readStdout(r io.ReadCloser, wg *sync.WaitGroup) {
	defer logging.LogPanic("session-stdout", nil)
	defer wg.Done()

	lines := NewLineBuffer(s.handleLine)
	if _, err := io.Copy(lines, r); err != nil {
		s.log.Debug("stdout read ended", "error", err)
	}
	lines.Flush()
}

func (s *Session) readStderr(r io.ReadCloser, wg *sync.WaitGroup) {
	defer logging.LogPanic("session-stderr", nil)
	defer wg.Done()

	lines := NewLineBuffer(func(line []byte) {
		text := strings.TrimSpace(string(line))
		if text == "" {
			return
		}
		if isInformational(text) {
			s.log.Debug("agent stderr", "line", text)
			return
		}
		s.log.Warn("agent stderr", "line", text)
		s.sink.OnError(s.chatID, errors.New(text))
	})
	_, _ = io.Copy(lines, r)
	lines.Flush()
}

// handleLine parses one stream frame and dispatches it to the sink.
// Runs on the stdout reader goroutine.
func (s *Session) handleLine(line []byte) {
	ev, err := s.adapter.ParseEvent(line)
	if err != nil {
		// Malformed lines are dropped; the stream keeps going.
		s.log.Warn("unparseable stream line", "error", err, "len", len(line))
		return
	}
	if ev == nil {
		return
	}

	switch ev.Type {
	case adapter.EventSystem:
		switch ev.Subtype {
		case adapter.SubtypeInit:
			s.mu.Lock()
			s.sessionID = ev.SessionID
			s.status = StatusReady
			s.mu.Unlock()
			s.log.Debug("session init", "session_id", ev.SessionID)
			s.sink.OnInit(s.chatID, ev.SessionID)
		case adapter.SubtypeCompact:
			s.sink.OnCompact(s.chatID)
		}

	case adapter.EventAssistant:
		s.setStatus(StatusRunning)
		s.sink.OnMessage(s.chatID, ev)

	case adapter.EventUser:
		if len(ev.ToolResults()) > 0 {
			s.sink.OnToolResult(s.chatID, ev)
		} else {
			s.sink.OnMessage(s.chatID, ev)
		}

	case adapter.EventResult:
		s.setStatus(StatusReady)
		if ev.Result != nil {
			s.sink.OnResult(s.chatID, *ev.Result)
		}

	case adapter.EventControlRequest:
		if ev.Permission != nil {
			s.sink.OnPermission(s.chatID, *ev.Permission)
		}

	case adapter.EventPlanFile:
		s.sink.OnPlanFile(s.chatID, ev.Path)

	case adapter.EventSkillFile:
		if ev.Skill != nil {
			s.sink.OnSkillFile(s.chatID, *ev.Skill)
		}
	}
}

// wait blocks until both reader goroutines drain and the process exits,
// then fires OnExit exactly once.
func (s *Session) wait(readers *sync.WaitGroup) {
	defer logging.LogPanic("session-wait", nil)

	readers.Wait()
	exitErr := s.cmd.Wait()

	s.mu.Lock()
	stopping := s.stopping
	if exitErr != nil && !stopping {
		s.status = StatusError
	} else {
		s.status = StatusStopped
	}
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	s.mu.Unlock()

	if stopping {
		// Expected termination; don't report the signal as a failure.
		exitErr = nil
	}
	s.log.Info("session exited", "error", exitErr)
	s.sink.OnExit(s.chatID, exitErr)
	close(s.done)
}
