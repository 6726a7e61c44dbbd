package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskdeck/cli/internal/ptysession"
	"taskdeck/cli/internal/status"
)

const (
	DefaultPTYRows    = 40
	DefaultPTYCols    = 80
	DefaultScreenRows = 40
	DefaultScreenCols = 120

	// ManagedDirName is the directory under a repository root that holds task worktrees.
	ManagedDirName = ".taskdeck"

	// MaxTerminalSize bounds rows and cols accepted from callers.
	MaxTerminalSize = 1000

	closeWaitTimeout = 3 * time.Second
)

type Options struct {
	VCS          VCS
	Agents       AgentFactory
	Shells       ShellFactory
	Watch        WatchFactory
	Sink         Sink
	History      SummaryLookup
	Logger       *slog.Logger
	DefaultAgent status.AgentKind
	// PTYSize and ScreenSize apply when a start request carries no size.
	PTYSize    Size
	ScreenSize Size
	Now        func() time.Time
}

type Size struct {
	Rows int
	Cols int
}

type taskRecord struct {
	agent         Agent
	summary       TaskSummary
	session       *ptysession.Session
	shell         *ptysession.Session
	starting      bool
	shellStarting bool
	// statusSeq counts status mutations and is guarded by Manager.mu.
	statusSeq uint64
	emit      statusEmitter
}

// Manager is the task registry. The map lock is never held across process
// spawn, git commands or pty I/O.
type Manager struct {
	vcs          VCS
	agents       AgentFactory
	shells       ShellFactory
	watch        WatchFactory
	sink         Sink
	history      SummaryLookup
	logger       *slog.Logger
	defaultAgent status.AgentKind
	ptySize      Size
	screenSize   Size
	now          func() time.Time

	mu    sync.RWMutex
	tasks map[string]*taskRecord

	watchMu  sync.Mutex
	watchers map[string]Closer

	// consumers tracks session event loops. Guarded by mu together with closed
	// so no loop is added once Close has started waiting.
	consumers sync.WaitGroup
	closed    bool
}

func NewManager(opts Options) (*Manager, error) {
	if opts.VCS == nil {
		return nil, fmt.Errorf("vcs is required")
	}
	if opts.Agents == nil {
		return nil, fmt.Errorf("agent factory is required")
	}
	m := &Manager{
		vcs:          opts.VCS,
		agents:       opts.Agents,
		shells:       opts.Shells,
		watch:        opts.Watch,
		sink:         opts.Sink,
		history:      opts.History,
		logger:       opts.Logger,
		defaultAgent: opts.DefaultAgent,
		ptySize:      Size{Rows: orDefault(opts.PTYSize.Rows, DefaultPTYRows), Cols: orDefault(opts.PTYSize.Cols, DefaultPTYCols)},
		screenSize:   Size{Rows: orDefault(opts.ScreenSize.Rows, DefaultScreenRows), Cols: orDefault(opts.ScreenSize.Cols, DefaultScreenCols)},
		now:          opts.Now,
		tasks:        map[string]*taskRecord{},
		watchers:     map[string]Closer{},
	}
	if m.sink == nil {
		m.sink = nopSink{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.defaultAgent == "" {
		m.defaultAgent = status.AgentCodex
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.shells == nil {
		m.shells = NewShellFactory("")
	}
	return m, nil
}

func (m *Manager) Get(taskID string) (TaskSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.tasks[taskID]
	if !ok {
		return TaskSummary{}, ErrNotFound
	}
	return rec.summary.clone(), nil
}

// List returns every task ordered by creation time.
func (m *Manager) List() []TaskSummary {
	m.mu.RLock()
	out := make([]TaskSummary, 0, len(m.tasks))
	for _, rec := range m.tasks {
		out = append(out, rec.summary.clone())
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) WorktreePath(taskID string) (string, error) {
	s, err := m.Get(taskID)
	if err != nil {
		return "", err
	}
	return s.WorktreePath, nil
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (TaskSummary, error) {
	branch := strings.TrimSpace(req.BranchName)
	if branch == "" {
		return TaskSummary{}, invalid("Branch name is required.")
	}
	if strings.HasPrefix(branch, "-") {
		return TaskSummary{}, invalid("Branch name must not start with '-'.")
	}
	basePath := strings.TrimSpace(req.BaseRepoPath)
	if basePath == "" {
		return TaskSummary{}, invalid("Base repository path is required.")
	}
	if err := m.vcs.ValidateRepo(ctx, basePath); err != nil {
		return TaskSummary{}, err
	}
	root, err := m.vcs.RepoRoot(ctx, basePath)
	if err != nil {
		return TaskSummary{}, err
	}
	root = canonicalPath(root, m.logger)

	baseRef := strings.TrimSpace(req.BaseRef)
	if baseRef == "" {
		baseRef = "HEAD"
	}
	if err := m.vcs.FetchBase(ctx, root, baseRef); err != nil {
		m.logger.Warn("base fetch failed; using local state", "repo", root, "base_ref", baseRef, "err", err)
	}
	baseCommit, err := m.vcs.ResolveCommit(ctx, root, baseRef)
	if err != nil {
		return TaskSummary{}, err
	}

	taskID := uuid.NewString()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Task " + strings.ReplaceAll(taskID, "-", "")
	}
	if err := m.vcs.Exclude(ctx, root, "/"+ManagedDirName+"/"); err != nil {
		m.logger.Warn("failed to exclude managed worktree dir", "repo", root, "err", err)
	}
	worktreePath := filepath.Join(managedRoot(root), taskID)
	if _, err := os.Stat(worktreePath); err == nil {
		if err := os.RemoveAll(worktreePath); err != nil {
			m.logger.Warn("failed to remove stale worktree dir", "path", worktreePath, "err", err)
		}
	}
	if err := m.vcs.AddWorktree(ctx, root, branch, worktreePath, baseCommit); err != nil {
		return TaskSummary{}, err
	}
	agent, err := m.agents(m.defaultAgent)
	if err != nil {
		return TaskSummary{}, fmt.Errorf("%w: %v", ErrIO, err)
	}

	summary := TaskSummary{
		TaskID:       taskID,
		Title:        title,
		Status:       status.Stopped,
		AgentKind:    agent.Kind(),
		CreatedAt:    m.now().UTC(),
		WorktreePath: worktreePath,
		BranchName:   branch,
		BaseBranch:   baseRef,
		BaseRepoPath: root,
		BaseCommit:   baseCommit,
	}
	rec := &taskRecord{agent: agent, summary: summary}
	m.mu.Lock()
	m.tasks[taskID] = rec
	seq := rec.markStatus()
	m.mu.Unlock()

	m.publishStatus(rec, seq, summary.clone())
	return summary.clone(), nil
}

// Start spawns the task's agent. A reservation taken under the write lock
// makes concurrent starts fail with ErrAlreadyRunning while one is spawning.
func (m *Manager) Start(ctx context.Context, req StartRequest) (TaskSummary, error) {
	if err := checkSize(req.Rows, req.Cols); err != nil {
		return TaskSummary{}, err
	}
	screenRows, screenCols := orDefault(req.Rows, m.screenSize.Rows), orDefault(req.Cols, m.screenSize.Cols)
	ptyRows, ptyCols := orDefault(req.Rows, m.ptySize.Rows), orDefault(req.Cols, m.ptySize.Cols)

	m.mu.Lock()
	rec, ok := m.tasks[req.TaskID]
	if !ok {
		m.mu.Unlock()
		return TaskSummary{}, ErrNotFound
	}
	if rec.session != nil || rec.starting {
		m.mu.Unlock()
		return TaskSummary{}, ErrAlreadyRunning
	}
	if m.closed {
		m.mu.Unlock()
		return TaskSummary{}, fmt.Errorf("%w: task registry is closed", ErrIO)
	}
	if req.AgentKind != "" && req.AgentKind != rec.agent.Kind() {
		agent, err := m.agents(req.AgentKind)
		if err != nil {
			m.mu.Unlock()
			return TaskSummary{}, invalid(err.Error())
		}
		rec.agent = agent
	}
	rec.summary.AgentKind = rec.agent.Kind()
	rec.agent.Reset(screenRows, screenCols)
	rec.starting = true
	agent := rec.agent
	dir := rec.summary.WorktreePath
	title := rec.summary.Title
	m.mu.Unlock()

	sess, spawnErr := agent.Start(dir, ptyRows, ptyCols)

	m.mu.Lock()
	rec, ok = m.tasks[req.TaskID]
	if !ok {
		m.mu.Unlock()
		if sess != nil {
			_ = sess.Kill()
		}
		return TaskSummary{}, ErrNotFound
	}
	rec.starting = false
	if spawnErr != nil {
		m.mu.Unlock()
		return TaskSummary{}, fmt.Errorf("%w: failed to start %s for task %s: %v", ErrIO, agent.Label(), title, spawnErr)
	}
	if m.closed {
		m.mu.Unlock()
		_ = sess.Kill()
		return TaskSummary{}, fmt.Errorf("%w: task registry is closed", ErrIO)
	}
	now := m.now().UTC()
	rec.session = sess
	rec.summary.Status = status.Idle
	rec.summary.StartedAt = &now
	rec.summary.EndedAt = nil
	rec.summary.ExitCode = nil
	seq := rec.markStatus()
	snap := rec.summary.clone()
	m.consumers.Add(1)
	m.mu.Unlock()

	m.logger.Info("agent started", "task_id", req.TaskID, "agent", agent.Kind(), "pid", sess.Process().Pid())
	m.publishStatus(rec, seq, snap.clone())
	go func() {
		defer m.consumers.Done()
		m.consumeAgent(req.TaskID, sess)
	}()
	return snap, nil
}

// Stop kills the agent and marks the task Stopped. It is a no-op without a session.
func (m *Manager) Stop(ctx context.Context, taskID string) (TaskSummary, error) {
	m.mu.RLock()
	rec, ok := m.tasks[taskID]
	if !ok {
		m.mu.RUnlock()
		return TaskSummary{}, ErrNotFound
	}
	sess := rec.session
	current := rec.summary.clone()
	m.mu.RUnlock()
	if sess == nil {
		return current, nil
	}
	// Stopped is recorded first so the exit that follows the kill keeps it.
	snap, err := m.setStatus(taskID, status.Stopped)
	if err != nil {
		return TaskSummary{}, err
	}
	if err := sess.Kill(); err != nil {
		m.logger.Warn("failed to kill agent", "task_id", taskID, "err", err)
	}
	return snap, nil
}

// Discard tears down every process, the worktree and the branch, then forgets the task.
func (m *Manager) Discard(ctx context.Context, taskID string) (TaskSummary, error) {
	m.mu.RLock()
	rec, ok := m.tasks[taskID]
	if !ok {
		m.mu.RUnlock()
		return TaskSummary{}, ErrNotFound
	}
	sess := rec.session
	summary := rec.summary.clone()
	m.mu.RUnlock()

	m.UnwatchDiff(taskID)
	if sess != nil {
		if _, err := m.setStatus(taskID, status.Stopped); err != nil {
			return TaskSummary{}, err
		}
		if err := sess.Kill(); err != nil {
			m.logger.Warn("failed to kill agent", "task_id", taskID, "err", err)
		}
	}

	m.mu.Lock()
	var shell *ptysession.Session
	if rec, ok := m.tasks[taskID]; ok {
		shell, rec.shell = rec.shell, nil
	}
	m.mu.Unlock()
	if shell != nil {
		if err := shell.Kill(); err != nil {
			m.logger.Warn("failed to kill shell", "task_id", taskID, "err", err)
		}
	}

	if err := m.vcs.RemoveWorktree(ctx, summary.BaseRepoPath, summary.WorktreePath); err != nil {
		m.logger.Warn("failed to remove worktree", "task_id", taskID, "path", summary.WorktreePath, "err", err)
	}
	if err := m.vcs.DeleteBranch(ctx, summary.BaseRepoPath, summary.BranchName); err != nil {
		m.logger.Warn("failed to delete branch", "task_id", taskID, "branch", summary.BranchName, "err", err)
	}
	if _, err := os.Stat(summary.WorktreePath); err == nil {
		if err := os.RemoveAll(summary.WorktreePath); err != nil {
			m.logger.Warn("failed to remove worktree dir", "task_id", taskID, "path", summary.WorktreePath, "err", err)
		}
	}

	m.mu.Lock()
	rec, ok = m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return TaskSummary{}, ErrNotFound
	}
	rec.summary.Status = status.Discarded
	rec.session = nil
	seq := rec.markStatus()
	snap := rec.summary.clone()
	delete(m.tasks, taskID)
	m.mu.Unlock()

	m.publishStatus(rec, seq, snap.clone())
	return snap, nil
}

// Close kills every agent and shell session, waits a bounded time for their
// exit notifications and stops all diff watchers.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*ptysession.Session, 0, len(m.tasks)*2)
	for _, rec := range m.tasks {
		if rec.session != nil {
			sessions = append(sessions, rec.session)
		}
		if rec.shell != nil {
			sessions = append(sessions, rec.shell)
		}
	}
	m.mu.Unlock()
	for _, s := range sessions {
		if err := s.Kill(); err != nil {
			m.logger.Warn("failed to kill session on shutdown", "pid", s.Process().Pid(), "err", err)
		}
	}
	done := make(chan struct{})
	go func() {
		m.consumers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeWaitTimeout):
		m.logger.Warn("timed out waiting for sessions to exit", "timeout", closeWaitTimeout)
	}
	m.watchMu.Lock()
	watchers := m.watchers
	m.watchers = map[string]Closer{}
	m.watchMu.Unlock()
	for id, w := range watchers {
		if err := w.Close(); err != nil {
			m.logger.Warn("failed to stop diff watcher", "task_id", id, "err", err)
		}
	}
	return nil
}

func (m *Manager) setStatus(taskID string, next status.Status) (TaskSummary, error) {
	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return TaskSummary{}, ErrNotFound
	}
	if rec.summary.Status == next {
		snap := rec.summary.clone()
		m.mu.Unlock()
		return snap, nil
	}
	rec.summary.Status = next
	seq := rec.markStatus()
	snap := rec.summary.clone()
	m.mu.Unlock()
	m.publishStatus(rec, seq, snap.clone())
	return snap, nil
}

func (m *Manager) consumeAgent(taskID string, sess *ptysession.Session) {
	for evt := range sess.Events() {
		switch evt.Kind {
		case ptysession.EventStatus:
			m.handleAgentStatus(taskID, sess, evt.Status)
		case ptysession.EventOutput:
			m.sink.TerminalOutput(taskID, evt.Data, status.TerminalAgent)
		case ptysession.EventExit:
			m.handleAgentExit(taskID, sess, evt.ExitCode)
		}
	}
}

// handleAgentStatus applies a detector status unless the session is no longer
// attached or the task already reached a final status.
func (m *Manager) handleAgentStatus(taskID string, sess *ptysession.Session, next status.Status) {
	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	if !ok || rec.session != sess || rec.summary.Status.Final() || rec.summary.Status == next {
		m.mu.Unlock()
		return
	}
	rec.summary.Status = next
	seq := rec.markStatus()
	snap := rec.summary.clone()
	m.mu.Unlock()
	m.publishStatus(rec, seq, snap)
}

func (m *Manager) handleAgentExit(taskID string, sess *ptysession.Session, code int) {
	m.mu.Lock()
	rec, ok := m.tasks[taskID]
	var snap *TaskSummary
	var seq uint64
	if ok && rec.session == sess {
		now := m.now().UTC()
		exitCode := code
		prev := rec.summary.Status
		rec.session = nil
		rec.summary.ExitCode = &exitCode
		rec.summary.EndedAt = &now
		switch prev {
		case status.Stopped, status.Discarded:
		default:
			if code == 0 {
				rec.summary.Status = status.Completed
			} else {
				rec.summary.Status = status.Failed
			}
		}
		m.logger.Info("agent exited", "task_id", taskID, "exit_code", code, "status", rec.summary.Status)
		if rec.summary.Status != prev {
			seq = rec.markStatus()
			s := rec.summary.clone()
			snap = &s
		}
	}
	m.mu.Unlock()
	if snap != nil {
		m.publishStatus(rec, seq, *snap)
	}
	m.sink.TerminalExit(taskID, code, status.TerminalAgent)
}

func managedRoot(repoRoot string) string {
	return filepath.Join(repoRoot, ManagedDirName, "worktrees")
}

// canonicalPath resolves symlinks, falling back to the cleaned input.
func canonicalPath(p string, logger *slog.Logger) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		logger.Warn("failed to canonicalize path; using provided path", "path", p, "err", err)
		return filepath.Clean(abs)
	}
	return resolved
}

// checkSize accepts zero as "use the default".
func checkSize(rows, cols int) error {
	if rows < 0 || cols < 0 || rows > MaxTerminalSize || cols > MaxTerminalSize {
		return invalid(fmt.Sprintf("Rows and cols must be between 1 and %d.", MaxTerminalSize))
	}
	return nil
}

func orDefault(v, def int) int {
	if v > 0 && v <= MaxTerminalSize {
		return v
	}
	return def
}
