package tasks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"taskdeck/cli/internal/ptysession"
	"taskdeck/cli/internal/status"
)

// ShellPath picks override, then $SHELL, then bash.
func ShellPath(override string) string {
	if s := strings.TrimSpace(override); s != "" {
		return s
	}
	if s := strings.TrimSpace(os.Getenv("SHELL")); s != "" {
		return s
	}
	return "bash"
}

func NewShellFactory(shell string) ShellFactory {
	return func(dir string, rows, cols int) (*ptysession.Session, error) {
		cmd := exec.Command(ShellPath(shell))
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "TERM=xterm-256color")
		return ptysession.Start(cmd, rows, cols, nil)
	}
}

func (m *Manager) TerminalWrite(ctx context.Context, taskID string, kind status.TerminalKind, data string) error {
	sess, _, err := m.sessionFor(taskID, kind)
	if err != nil {
		return err
	}
	if _, err := sess.Writer().Write([]byte(data)); err != nil {
		return fmt.Errorf("%w: write to %s terminal: %v", ErrIO, kind, err)
	}
	if err := sess.Writer().Flush(); err != nil {
		m.logger.Warn("failed to flush terminal input", "task_id", taskID, "kind", kind, "err", err)
	}
	return nil
}

// TerminalResize resizes the pty and, for the agent terminal, the rendered screen.
func (m *Manager) TerminalResize(ctx context.Context, taskID string, kind status.TerminalKind, rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return invalid("Rows and cols must be positive.")
	}
	if err := checkSize(rows, cols); err != nil {
		return err
	}
	sess, agent, err := m.sessionFor(taskID, kind)
	if err != nil {
		return err
	}
	if err := sess.Master().Resize(rows, cols); err != nil {
		return fmt.Errorf("%w: resize %s terminal: %v", ErrIO, kind, err)
	}
	if kind == status.TerminalAgent && agent != nil {
		agent.Resize(rows, cols)
	}
	return nil
}

func (m *Manager) sessionFor(taskID string, kind status.TerminalKind) (*ptysession.Session, Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[taskID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	var sess *ptysession.Session
	switch kind {
	case status.TerminalAgent:
		sess = rec.session
	case status.TerminalShell:
		sess = rec.shell
	default:
		return nil, nil, invalid(fmt.Sprintf("Unknown terminal kind %q.", kind))
	}
	if sess == nil {
		return nil, nil, ErrNotRunning
	}
	return sess, rec.agent, nil
}

// StartShell opens an interactive shell in the task worktree. It is a no-op
// when a shell is already running or being started.
func (m *Manager) StartShell(ctx context.Context, taskID string, rows, cols int) error {
	if err := checkSize(rows, cols); err != nil {
		return err
	}
	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if rec.shell != nil || rec.shellStarting {
		m.mu.Unlock()
		return nil
	}
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: task registry is closed", ErrIO)
	}
	rec.shellStarting = true
	dir := rec.summary.WorktreePath
	m.mu.Unlock()

	sess, spawnErr := m.shells(dir, orDefault(rows, m.ptySize.Rows), orDefault(cols, m.ptySize.Cols))

	m.mu.Lock()
	rec, ok = m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Kill()
		}
		return ErrNotFound
	}
	rec.shellStarting = false
	if spawnErr != nil {
		title := rec.summary.Title
		m.mu.Unlock()
		return fmt.Errorf("%w: failed to start shell for task %s: %v", ErrIO, title, spawnErr)
	}
	if m.closed {
		m.mu.Unlock()
		_ = sess.Kill()
		return fmt.Errorf("%w: task registry is closed", ErrIO)
	}
	rec.shell = sess
	m.consumers.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.consumers.Done()
		m.consumeShell(taskID, sess)
	}()
	return nil
}

func (m *Manager) consumeShell(taskID string, sess *ptysession.Session) {
	for evt := range sess.Events() {
		switch evt.Kind {
		case ptysession.EventOutput:
			m.sink.TerminalOutput(taskID, evt.Data, status.TerminalShell)
		case ptysession.EventExit:
			m.mu.Lock()
			if rec, ok := m.tasks[taskID]; ok && rec.shell == sess {
				rec.shell = nil
			}
			m.mu.Unlock()
			m.sink.TerminalExit(taskID, evt.ExitCode, status.TerminalShell)
		}
	}
}
