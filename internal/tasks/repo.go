package tasks

import (
	"context"
	"fmt"
	"strings"

	"taskdeck/cli/internal/vcs"
)

// SelectBaseRepo validates path and describes its current checkout.
func (m *Manager) SelectBaseRepo(ctx context.Context, path string) (BaseRepoInfo, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return BaseRepoInfo{}, invalid("Repository path is required.")
	}
	if err := m.vcs.ValidateRepo(ctx, p); err != nil {
		return BaseRepoInfo{}, err
	}
	branch, err := m.vcs.HeadBranch(ctx, p)
	if err != nil {
		return BaseRepoInfo{}, err
	}
	head, err := m.vcs.HeadCommit(ctx, p)
	if err != nil {
		return BaseRepoInfo{}, err
	}
	return BaseRepoInfo{
		Path:          path,
		CanonicalPath: canonicalPath(p, m.logger),
		CurrentBranch: branch,
		Head:          head,
	}, nil
}

func (m *Manager) ListBranches(ctx context.Context, repoPath string) ([]string, error) {
	p := strings.TrimSpace(repoPath)
	if p == "" {
		return nil, invalid("Repository path is required.")
	}
	if err := m.vcs.ValidateRepo(ctx, p); err != nil {
		return nil, err
	}
	return m.vcs.ListBranches(ctx, p)
}

// Diff stages the worktree and compares it with HEAD, or with the task's
// base commit in branch mode.
func (m *Manager) Diff(ctx context.Context, taskID string, req DiffRequest) ([]vcs.DiffFile, error) {
	summary, err := m.Get(taskID)
	if err != nil {
		return nil, err
	}
	base := "HEAD"
	switch req.Mode {
	case "", DiffWorktree:
	case DiffBranch:
		base = summary.BaseCommit
	default:
		return nil, invalid("Unknown diff mode " + string(req.Mode) + ".")
	}
	if err := m.vcs.StageAll(ctx, summary.WorktreePath); err != nil {
		m.logger.Warn("failed to stage changes before diff", "task_id", taskID, "err", err)
	}
	return m.vcs.Diff(ctx, summary.WorktreePath, base, req.IgnoreWhitespace)
}

func (m *Manager) Commit(ctx context.Context, taskID, message string, stageAll bool) error {
	if strings.TrimSpace(message) == "" {
		return invalid("Commit message is required.")
	}
	summary, err := m.Get(taskID)
	if err != nil {
		return err
	}
	if err := m.vcs.Commit(ctx, summary.WorktreePath, message, stageAll); err != nil {
		return err
	}
	m.sink.DiffChanged(taskID)
	return nil
}

// Push defaults to origin, the task branch and setting upstream.
func (m *Manager) Push(ctx context.Context, taskID string, req PushRequest) error {
	summary, err := m.Get(taskID)
	if err != nil {
		return err
	}
	remote := strings.TrimSpace(req.Remote)
	if remote == "" {
		remote = "origin"
	}
	branch := strings.TrimSpace(req.Branch)
	if branch == "" {
		branch = summary.BranchName
	}
	setUpstream := true
	if req.SetUpstream != nil {
		setUpstream = *req.SetUpstream
	}
	if err := m.vcs.Push(ctx, summary.WorktreePath, remote, branch, setUpstream); err != nil {
		return err
	}
	m.sink.DiffChanged(taskID)
	return nil
}

func (m *Manager) HasChanges(ctx context.Context, taskID string) (bool, error) {
	summary, err := m.Get(taskID)
	if err != nil {
		return false, err
	}
	return m.vcs.HasChanges(ctx, summary.WorktreePath)
}

// WatchDiff starts reporting worktree changes for taskID. Repeated calls are no-ops.
func (m *Manager) WatchDiff(taskID string) error {
	summary, err := m.Get(taskID)
	if err != nil {
		return err
	}
	if m.watch == nil {
		return invalid("Diff watching is not available.")
	}
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if _, ok := m.watchers[taskID]; ok {
		return nil
	}
	w, err := m.watch(summary.WorktreePath, func() { m.sink.DiffChanged(taskID) })
	if err != nil {
		return fmt.Errorf("%w: watch %s: %v", ErrIO, summary.WorktreePath, err)
	}
	m.watchers[taskID] = w
	return nil
}

func (m *Manager) UnwatchDiff(taskID string) {
	m.watchMu.Lock()
	w, ok := m.watchers[taskID]
	delete(m.watchers, taskID)
	m.watchMu.Unlock()
	if ok {
		if err := w.Close(); err != nil {
			m.logger.Warn("failed to stop diff watcher", "task_id", taskID, "err", err)
		}
	}
}
