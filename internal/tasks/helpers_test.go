package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"taskdeck/cli/internal/ptysession"
	"taskdeck/cli/internal/status"
	"taskdeck/cli/internal/vcs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireSh(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh is not available")
	}
	return sh
}

type fakeVCS struct {
	mu          sync.Mutex
	root        string
	notRepo     bool
	fetchErr    error
	resolveErr  error
	head        string
	headBranch  string
	worktrees   []vcs.WorktreeEntry
	diffBases   []string
	removed     []string
	deleted     []string
	commits     []string
	pushes      []string
	stageCalls  int
	hasChanges  bool
	excludeSeen []string
}

func newFakeVCS(t *testing.T) *fakeVCS {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("eval symlinks: %v", err)
	}
	return &fakeVCS{root: root, head: "0123456789abcdef0123456789abcdef01234567", headBranch: "main"}
}

func (f *fakeVCS) ValidateRepo(context.Context, string) error {
	if f.notRepo {
		return &vcs.Error{Op: "validate repository", Detail: "The selected directory is not a Git repository."}
	}
	return nil
}

func (f *fakeVCS) RepoRoot(context.Context, string) (string, error) { return f.root, nil }

func (f *fakeVCS) ResolveCommit(_ context.Context, _, ref string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.head, nil
}

func (f *fakeVCS) HeadCommit(context.Context, string) (string, error) { return f.head, nil }

func (f *fakeVCS) HeadBranch(context.Context, string) (string, error) { return f.headBranch, nil }

func (f *fakeVCS) ListBranches(context.Context, string) ([]string, error) {
	return []string{"main", "origin/main"}, nil
}

func (f *fakeVCS) FetchBase(context.Context, string, string) error { return f.fetchErr }

func (f *fakeVCS) Exclude(_ context.Context, _, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excludeSeen = append(f.excludeSeen, pattern)
	return nil
}

func (f *fakeVCS) AddWorktree(_ context.Context, _, _, path, _ string) error {
	return os.MkdirAll(path, 0o755)
}

func (f *fakeVCS) RemoveWorktree(_ context.Context, _, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, path)
	return errors.New("worktree is locked")
}

func (f *fakeVCS) PruneWorktrees(context.Context, string) error { return nil }

func (f *fakeVCS) DeleteBranch(_ context.Context, _, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, branch)
	return nil
}

func (f *fakeVCS) ListWorktrees(context.Context, string) ([]vcs.WorktreeEntry, error) {
	return f.worktrees, nil
}

func (f *fakeVCS) StageAll(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stageCalls++
	return nil
}

func (f *fakeVCS) Diff(_ context.Context, _, base string, _ bool) ([]vcs.DiffFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffBases = append(f.diffBases, base)
	return []vcs.DiffFile{{Path: "a.txt", Status: "M"}}, nil
}

func (f *fakeVCS) Commit(_ context.Context, _, message string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, message)
	return nil
}

func (f *fakeVCS) Push(_ context.Context, _, remote, branch string, setUpstream bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if setUpstream {
		f.pushes = append(f.pushes, remote+" "+branch+" upstream")
	} else {
		f.pushes = append(f.pushes, remote+" "+branch)
	}
	return nil
}

func (f *fakeVCS) HasChanges(context.Context, string) (bool, error) { return f.hasChanges, nil }

// fakeAgent runs a shell script on a real pty. gate, when set, blocks Start
// until closed so tests can interleave concurrent calls.
type fakeAgent struct {
	kind     status.AgentKind
	sh       string
	script   string
	observer ptysession.Observer
	startErr error
	gate     chan struct{}
	entered  chan struct{}

	mu      sync.Mutex
	resets  [][2]int
	resizes [][2]int
	starts  int
}

func (a *fakeAgent) Kind() status.AgentKind { return a.kind }

func (a *fakeAgent) Label() string { return a.kind.Label() }

func (a *fakeAgent) Start(dir string, rows, cols int) (*ptysession.Session, error) {
	a.mu.Lock()
	a.starts++
	a.mu.Unlock()
	if a.entered != nil {
		a.entered <- struct{}{}
	}
	if a.gate != nil {
		<-a.gate
	}
	if a.startErr != nil {
		return nil, a.startErr
	}
	cmd := exec.Command(a.sh, "-c", a.script)
	cmd.Dir = dir
	return ptysession.Start(cmd, rows, cols, a.observer)
}

func (a *fakeAgent) Reset(rows, cols int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets = append(a.resets, [2]int{rows, cols})
}

func (a *fakeAgent) Resize(rows, cols int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resizes = append(a.resizes, [2]int{rows, cols})
}

type exitEvent struct {
	taskID string
	code   int
	kind   status.TerminalKind
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []TaskSummary
	output   map[status.TerminalKind]string
	exits    []exitEvent
	diffs    []string
	notify   chan struct{}

	// holdStatus, when set, makes the first delivery of that status signal
	// held and block until release is closed.
	holdStatus status.Status
	held       chan struct{}
	release    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{output: map[status.TerminalKind]string{}, notify: make(chan struct{}, 1024)}
}

func (s *recordingSink) ping() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *recordingSink) StatusChanged(summary TaskSummary) {
	s.mu.Lock()
	hold := s.holdStatus != "" && summary.Status == s.holdStatus
	if hold {
		s.holdStatus = ""
	}
	held, release := s.held, s.release
	s.mu.Unlock()
	if hold {
		close(held)
		<-release
	}
	s.mu.Lock()
	s.statuses = append(s.statuses, summary)
	s.mu.Unlock()
	s.ping()
}

func (s *recordingSink) holdNext(st status.Status) (held, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdStatus = st
	s.held = make(chan struct{})
	s.release = make(chan struct{})
	return s.held, s.release
}

func (s *recordingSink) TerminalOutput(_ string, data string, kind status.TerminalKind) {
	s.mu.Lock()
	s.output[kind] += data
	s.mu.Unlock()
	s.ping()
}

func (s *recordingSink) TerminalExit(taskID string, code int, kind status.TerminalKind) {
	s.mu.Lock()
	s.exits = append(s.exits, exitEvent{taskID: taskID, code: code, kind: kind})
	s.mu.Unlock()
	s.ping()
}

func (s *recordingSink) DiffChanged(taskID string) {
	s.mu.Lock()
	s.diffs = append(s.diffs, taskID)
	s.mu.Unlock()
	s.ping()
}

func (s *recordingSink) statusSeq(taskID string) []status.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []status.Status
	for _, st := range s.statuses {
		if st.TaskID == taskID {
			out = append(out, st.Status)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func (s *recordingSink) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-s.notify:
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func (s *recordingSink) exitsFor(taskID string) []exitEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []exitEvent
	for _, e := range s.exits {
		if e.taskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	mgr   *Manager
	vcs   *fakeVCS
	sink  *recordingSink
	agent *fakeAgent
}

func newTestEnv(t *testing.T, script string) *testEnv {
	t.Helper()
	sh := requireSh(t)
	env := &testEnv{
		vcs:   newFakeVCS(t),
		sink:  newRecordingSink(),
		agent: &fakeAgent{kind: status.AgentCodex, sh: sh, script: script},
	}
	mgr, err := NewManager(Options{
		VCS: env.vcs,
		Agents: func(kind status.AgentKind) (Agent, error) {
			if kind == status.AgentCodex {
				return env.agent, nil
			}
			if kind == status.AgentCopilot {
				return &fakeAgent{kind: kind, sh: sh, script: script}, nil
			}
			return nil, errors.New("unsupported agent kind")
		},
		Shells: func(dir string, rows, cols int) (*ptysession.Session, error) {
			cmd := exec.Command(sh, "-c", "printf shell-ready; sleep 30")
			cmd.Dir = dir
			return ptysession.Start(cmd, rows, cols, nil)
		},
		Sink:   env.sink,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	env.mgr = mgr
	t.Cleanup(func() { _ = mgr.Close() })
	return env
}

func (e *testEnv) create(t *testing.T) TaskSummary {
	t.Helper()
	s, err := e.mgr.Create(context.Background(), CreateRequest{BaseRepoPath: e.vcs.root, BranchName: "feature/x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}
