package tasks

import (
	"context"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"taskdeck/cli/internal/status"
)

// RegisterExisting adopts managed worktrees of baseRepoPath that the registry
// does not track yet, typically after a restart. New records start Stopped.
func (m *Manager) RegisterExisting(ctx context.Context, baseRepoPath string) ([]TaskSummary, error) {
	path := strings.TrimSpace(baseRepoPath)
	if path == "" {
		return nil, invalid("Base repository path is required.")
	}
	if err := m.vcs.ValidateRepo(ctx, path); err != nil {
		return nil, err
	}
	root, err := m.vcs.RepoRoot(ctx, path)
	if err != nil {
		return nil, err
	}
	root = canonicalPath(root, m.logger)
	if err := m.vcs.PruneWorktrees(ctx, root); err != nil {
		m.logger.Warn("worktree prune failed", "repo", root, "err", err)
	}
	managed := managedRoot(root)
	baseCommit, err := m.vcs.HeadCommit(ctx, root)
	if err != nil {
		return nil, err
	}
	baseBranch, err := m.vcs.HeadBranch(ctx, root)
	if err != nil {
		m.logger.Warn("failed to resolve base branch; defaulting to HEAD", "repo", root, "err", err)
		baseBranch = "HEAD"
	}
	entries, err := m.vcs.ListWorktrees(ctx, root)
	if err != nil {
		return nil, err
	}

	inserted := []TaskSummary{}
	for _, entry := range entries {
		wtPath := canonicalPath(entry.Path, m.logger)
		if wtPath == root || !within(managed, wtPath) {
			continue
		}
		branch := cleanBranchName(entry.Branch)
		if branch == "" {
			branch = "detached-" + shortHash(entry.Head)
		}
		summary := TaskSummary{
			TaskID:       filepath.Base(wtPath),
			Title:        titleFromBranch(branch),
			Status:       status.Stopped,
			AgentKind:    m.defaultAgent,
			CreatedAt:    m.now().UTC(),
			WorktreePath: wtPath,
			BranchName:   branch,
			BaseBranch:   baseBranch,
			BaseRepoPath: root,
			BaseCommit:   baseCommit,
		}
		m.restoreFromHistory(&summary)
		agent, err := m.agents(summary.AgentKind)
		if err != nil {
			m.logger.Warn("unknown agent kind in history; using default", "task_id", summary.TaskID, "agent", summary.AgentKind)
			summary.AgentKind = m.defaultAgent
			if agent, err = m.agents(m.defaultAgent); err != nil {
				return inserted, err
			}
		}
		if rec, seq, ok := m.insertIfUntracked(&summary, agent); ok {
			m.publishStatus(rec, seq, summary.clone())
			inserted = append(inserted, summary.clone())
		}
	}
	return inserted, nil
}

// restoreFromHistory overlays metadata recorded when the task was first created.
func (m *Manager) restoreFromHistory(summary *TaskSummary) {
	if m.history == nil {
		return
	}
	prev, ok, err := m.history.LookupByWorktree(summary.WorktreePath)
	if err != nil {
		m.logger.Warn("task history lookup failed", "path", summary.WorktreePath, "err", err)
		return
	}
	if !ok {
		return
	}
	if prev.TaskID != "" {
		summary.TaskID = prev.TaskID
	}
	if strings.TrimSpace(prev.Title) != "" {
		summary.Title = prev.Title
	}
	if prev.AgentKind != "" {
		summary.AgentKind = prev.AgentKind
	}
	if !prev.CreatedAt.IsZero() {
		summary.CreatedAt = prev.CreatedAt
	}
	if prev.BaseBranch != "" {
		summary.BaseBranch = prev.BaseBranch
	}
	if prev.BaseCommit != "" {
		summary.BaseCommit = prev.BaseCommit
	}
}

// insertIfUntracked adds the record unless its worktree is already tracked.
// Ids that are not UUIDs or collide with another task are replaced.
func (m *Manager) insertIfUntracked(summary *TaskSummary, agent Agent) (*taskRecord, uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.tasks {
		if rec.summary.WorktreePath == summary.WorktreePath {
			return nil, 0, false
		}
	}
	if _, err := uuid.Parse(summary.TaskID); err != nil {
		summary.TaskID = uuid.NewString()
	}
	if _, taken := m.tasks[summary.TaskID]; taken {
		summary.TaskID = uuid.NewString()
	}
	rec := &taskRecord{agent: agent, summary: summary.clone()}
	m.tasks[summary.TaskID] = rec
	return rec, rec.markStatus(), true
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func cleanBranchName(name string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "refs/heads/"))
}

func shortHash(head string) string {
	if len(head) > 7 {
		return head[:7]
	}
	return head
}

// titleFromBranch turns "feature/add-login" into "Add login".
func titleFromBranch(branch string) string {
	name := branch
	if i := strings.LastIndex(name, "/"); i >= 0 && i < len(name)-1 {
		name = name[i+1:]
	}
	name = strings.Join(strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	}), " ")
	if name == "" {
		return branch
	}
	runes := []rune(name)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
