package tasks

import (
	"context"
	"errors"
	"time"

	"taskdeck/cli/internal/ptysession"
	"taskdeck/cli/internal/status"
	"taskdeck/cli/internal/vcs"
)

var (
	ErrNotFound       = errors.New("task not found")
	ErrAlreadyRunning = errors.New("task is already running")
	ErrNotRunning     = errors.New("task is not running")
	ErrInvalidRequest = errors.New("invalid request")
	ErrIO             = errors.New("io failure")
)

// RequestError carries a caller-facing validation message and matches ErrInvalidRequest.
type RequestError struct {
	Msg string
}

func (e *RequestError) Error() string { return e.Msg }

func (e *RequestError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(msg string) error {
	return &RequestError{Msg: msg}
}

type TaskSummary struct {
	TaskID       string           `json:"taskId"`
	Title        string           `json:"title"`
	Status       status.Status    `json:"status"`
	AgentKind    status.AgentKind `json:"agentKind"`
	CreatedAt    time.Time        `json:"createdAt"`
	StartedAt    *time.Time       `json:"startedAt"`
	EndedAt      *time.Time       `json:"endedAt"`
	WorktreePath string           `json:"worktreePath"`
	BranchName   string           `json:"branchName"`
	BaseBranch   string           `json:"baseBranch"`
	BaseRepoPath string           `json:"baseRepoPath"`
	BaseCommit   string           `json:"baseCommit"`
	ExitCode     *int             `json:"exitCode"`
}

func (s TaskSummary) clone() TaskSummary {
	out := s
	if s.StartedAt != nil {
		v := *s.StartedAt
		out.StartedAt = &v
	}
	if s.EndedAt != nil {
		v := *s.EndedAt
		out.EndedAt = &v
	}
	if s.ExitCode != nil {
		v := *s.ExitCode
		out.ExitCode = &v
	}
	return out
}

type BaseRepoInfo struct {
	Path          string `json:"path"`
	CanonicalPath string `json:"canonicalPath"`
	CurrentBranch string `json:"currentBranch"`
	Head          string `json:"head"`
}

type CreateRequest struct {
	BaseRepoPath string `json:"baseRepoPath"`
	Title        string `json:"taskTitle,omitempty"`
	BaseRef      string `json:"baseRef,omitempty"`
	BranchName   string `json:"branchName"`
}

// StartRequest uses zero values for absent sizes and agent.
type StartRequest struct {
	TaskID    string
	Rows      int
	Cols      int
	AgentKind status.AgentKind
}

type DiffMode string

const (
	DiffWorktree DiffMode = "worktree"
	DiffBranch   DiffMode = "branch"
)

type DiffRequest struct {
	IgnoreWhitespace bool
	Mode             DiffMode
}

type PushRequest struct {
	Remote      string
	Branch      string
	SetUpstream *bool
}

// Agent is the capability set the registry needs from a coding agent variant.
type Agent interface {
	Kind() status.AgentKind
	Label() string
	Start(dir string, rows, cols int) (*ptysession.Session, error)
	Reset(rows, cols int)
	Resize(rows, cols int)
}

type AgentFactory func(kind status.AgentKind) (Agent, error)

// ShellFactory spawns an interactive shell in dir.
type ShellFactory func(dir string, rows, cols int) (*ptysession.Session, error)

// WatchFactory starts a change watcher for root. The returned Closer stops it.
type WatchFactory func(root string, onChange func()) (Closer, error)

type Closer interface {
	Close() error
}

type VCS interface {
	ValidateRepo(ctx context.Context, path string) error
	RepoRoot(ctx context.Context, path string) (string, error)
	ResolveCommit(ctx context.Context, repo, ref string) (string, error)
	HeadCommit(ctx context.Context, dir string) (string, error)
	HeadBranch(ctx context.Context, dir string) (string, error)
	ListBranches(ctx context.Context, repo string) ([]string, error)
	FetchBase(ctx context.Context, repo, baseRef string) error
	Exclude(ctx context.Context, repo, pattern string) error
	AddWorktree(ctx context.Context, repo, branch, path, baseRef string) error
	RemoveWorktree(ctx context.Context, repo, path string) error
	PruneWorktrees(ctx context.Context, repo string) error
	DeleteBranch(ctx context.Context, repo, branch string) error
	ListWorktrees(ctx context.Context, repo string) ([]vcs.WorktreeEntry, error)
	StageAll(ctx context.Context, dir string) error
	Diff(ctx context.Context, dir, base string, ignoreWhitespace bool) ([]vcs.DiffFile, error)
	Commit(ctx context.Context, dir, message string, stageAll bool) error
	Push(ctx context.Context, dir, remote, branch string, setUpstream bool) error
	HasChanges(ctx context.Context, dir string) (bool, error)
}

// Sink receives task notifications. Delivery is best-effort and must not block for long.
type Sink interface {
	StatusChanged(summary TaskSummary)
	TerminalOutput(taskID, data string, kind status.TerminalKind)
	TerminalExit(taskID string, exitCode int, kind status.TerminalKind)
	DiffChanged(taskID string)
}

// SummaryLookup finds a previously recorded summary for a worktree path.
type SummaryLookup interface {
	LookupByWorktree(path string) (TaskSummary, bool, error)
}
