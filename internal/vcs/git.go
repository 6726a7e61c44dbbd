package vcs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const notARepoMessage = "The selected directory is not a Git repository."

// WorktreeEntry is one linked worktree as reported by git.
type WorktreeEntry struct {
	Path   string
	Branch string
	Head   string
}

// Git drives the git CLI. All paths are used as working directories.
type Git struct {
	runner Runner
	logger *slog.Logger
}

func New(runner Runner, logger *slog.Logger) *Git {
	if runner == nil {
		runner = &ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{runner: runner, logger: logger}
}

func (g *Git) output(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := g.runner.Run(ctx, dir, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *Git) ValidateRepo(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return &Error{Op: "validate repository", Detail: notARepoMessage}
	}
	out, err := g.output(ctx, path, "rev-parse", "--is-inside-work-tree")
	if err != nil || out != "true" {
		return &Error{Op: "validate repository", Detail: notARepoMessage}
	}
	return nil
}

func (g *Git) RepoRoot(ctx context.Context, path string) (string, error) {
	out, err := g.output(ctx, path, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", wrap("resolve repository root", err)
	}
	return filepath.Clean(out), nil
}

func (g *Git) ResolveCommit(ctx context.Context, repo, ref string) (string, error) {
	out, err := g.output(ctx, repo, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", wrap("resolve "+ref, err)
	}
	return out, nil
}

func (g *Git) HeadCommit(ctx context.Context, dir string) (string, error) {
	return g.ResolveCommit(ctx, dir, "HEAD")
}

// HeadBranch returns the checked out branch, or "HEAD" when detached.
func (g *Git) HeadBranch(ctx context.Context, dir string) (string, error) {
	out, err := g.output(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", wrap("resolve current branch", err)
	}
	return out, nil
}

// ListBranches returns local and remote-tracking branch names, sorted and deduplicated.
func (g *Git) ListBranches(ctx context.Context, repo string) ([]string, error) {
	out, err := g.output(ctx, repo, "for-each-ref", "--format=%(refname:short)", "refs/heads", "refs/remotes")
	if err != nil {
		return nil, wrap("list branches", err)
	}
	seen := map[string]struct{}{}
	branches := []string{}
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || strings.Contains(name, "HEAD") {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		branches = append(branches, name)
	}
	sort.Strings(branches)
	return branches, nil
}

// FetchBase refreshes baseRef from its remote. A local branch that is strictly
// behind its upstream is fast-forwarded; ahead or diverged branches are left alone.
func (g *Git) FetchBase(ctx context.Context, repo, baseRef string) error {
	ref := strings.TrimSpace(baseRef)
	if ref == "" {
		return nil
	}
	if ref == "HEAD" {
		branch, err := g.HeadBranch(ctx, repo)
		if err != nil || branch == "HEAD" {
			return err
		}
		ref = branch
	}
	local := strings.TrimPrefix(ref, "refs/heads/")
	if _, err := g.output(ctx, repo, "rev-parse", "--verify", "--quiet", "refs/heads/"+local); err == nil {
		remote, remoteBranch := g.upstreamOf(ctx, repo, local)
		if _, err := g.output(ctx, repo, "fetch", remote, remoteBranch); err != nil {
			return wrap("fetch "+remote+"/"+remoteBranch, err)
		}
		return g.fastForward(ctx, repo, local, "refs/remotes/"+remote+"/"+remoteBranch)
	}
	if remote, branch, ok := strings.Cut(ref, "/"); ok && remote != "" && branch != "" {
		if _, err := g.output(ctx, repo, "fetch", remote, branch); err != nil {
			return wrap("fetch "+ref, err)
		}
	}
	return nil
}

func (g *Git) upstreamOf(ctx context.Context, repo, branch string) (string, string) {
	out, err := g.output(ctx, repo, "rev-parse", "--symbolic-full-name", branch+"@{upstream}")
	if err == nil {
		parts := strings.Split(out, "/")
		if len(parts) >= 4 && parts[0] == "refs" && parts[1] == "remotes" {
			return parts[2], strings.Join(parts[3:], "/")
		}
	}
	return "origin", branch
}

func (g *Git) fastForward(ctx context.Context, repo, branch, remoteRef string) error {
	localOID, err := g.output(ctx, repo, "rev-parse", "--verify", "refs/heads/"+branch)
	if err != nil {
		g.logger.Warn("fast-forward check skipped", "branch", branch, "err", err)
		return nil
	}
	remoteOID, err := g.output(ctx, repo, "rev-parse", "--verify", remoteRef)
	if err != nil {
		g.logger.Warn("fast-forward check skipped", "ref", remoteRef, "err", err)
		return nil
	}
	if localOID == remoteOID {
		return nil
	}
	if _, err := g.output(ctx, repo, "merge-base", "--is-ancestor", localOID, remoteOID); err != nil {
		return nil
	}
	current, _ := g.HeadBranch(ctx, repo)
	if current == branch {
		dirty, err := g.HasChanges(ctx, repo)
		if err != nil || dirty {
			return nil
		}
		_, err = g.output(ctx, repo, "merge", "--ff-only", remoteOID)
		return wrap("fast-forward "+branch, err)
	}
	_, err = g.output(ctx, repo, "update-ref", "refs/heads/"+branch, remoteOID, localOID)
	return wrap("fast-forward "+branch, err)
}

// AddWorktree checks out branch at path, creating the branch from baseRef when missing.
func (g *Git) AddWorktree(ctx context.Context, repo, branch, path, baseRef string) error {
	if _, err := g.output(ctx, repo, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err != nil {
		if _, err := g.output(ctx, repo, "branch", branch, baseRef); err != nil {
			return wrap("create branch "+branch, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wrap("add worktree", err)
	}
	if _, err := g.output(ctx, repo, "worktree", "add", path, branch); err != nil {
		return wrap("add worktree", err)
	}
	return nil
}

func (g *Git) RemoveWorktree(ctx context.Context, repo, path string) error {
	_, err := g.output(ctx, repo, "worktree", "remove", "--force", path)
	return wrap("remove worktree", err)
}

func (g *Git) PruneWorktrees(ctx context.Context, repo string) error {
	_, err := g.output(ctx, repo, "worktree", "prune")
	return wrap("prune worktrees", err)
}

// DeleteBranch is a no-op when the branch does not exist.
func (g *Git) DeleteBranch(ctx context.Context, repo, branch string) error {
	if _, err := g.output(ctx, repo, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err != nil {
		return nil
	}
	_, err := g.output(ctx, repo, "branch", "-D", branch)
	return wrap("delete branch "+branch, err)
}

// ListWorktrees returns every worktree of repo, the main one included.
func (g *Git) ListWorktrees(ctx context.Context, repo string) ([]WorktreeEntry, error) {
	out, err := g.runner.Run(ctx, repo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, wrap("list worktrees", err)
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out []byte) []WorktreeEntry {
	entries := []WorktreeEntry{}
	var cur *WorktreeEntry
	flush := func() {
		if cur != nil && cur.Path != "" && cur.Head != "" {
			entries = append(entries, *cur)
		}
		cur = nil
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &WorktreeEntry{Path: filepath.Clean(strings.TrimPrefix(line, "worktree "))}
		case cur == nil:
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return entries
}

func (g *Git) StageAll(ctx context.Context, dir string) error {
	_, err := g.output(ctx, dir, "add", "--all")
	return wrap("stage changes", err)
}

// Commit records the index as a new commit. Without a configured identity
// a local fallback author is used.
func (g *Git) Commit(ctx context.Context, dir, message string, stageAll bool) error {
	if strings.TrimSpace(message) == "" {
		return &Error{Op: "commit", Detail: "Commit message is required."}
	}
	if stageAll {
		if err := g.StageAll(ctx, dir); err != nil {
			return err
		}
	}
	args := []string{}
	if email, _ := g.output(ctx, dir, "config", "user.email"); email == "" {
		args = append(args, "-c", "user.name=taskdeck", "-c", "user.email=taskdeck@local")
	}
	args = append(args, "commit", "--allow-empty", "-m", message)
	_, err := g.output(ctx, dir, args...)
	return wrap("commit", err)
}

func (g *Git) Push(ctx context.Context, dir, remote, branch string, setUpstream bool) error {
	local := branch
	if !strings.HasPrefix(local, "refs/") {
		local = "refs/heads/" + branch
	}
	refspec := local + ":refs/heads/" + strings.TrimPrefix(branch, "refs/heads/")
	if _, err := g.output(ctx, dir, "push", remote, refspec); err != nil {
		return wrap("push", err)
	}
	if setUpstream {
		upstream := remote + "/" + strings.TrimPrefix(branch, "refs/heads/")
		if _, err := g.output(ctx, dir, "branch", "--set-upstream-to="+upstream, strings.TrimPrefix(branch, "refs/heads/")); err != nil {
			g.logger.Warn("failed to set upstream", "branch", branch, "upstream", upstream, "err", err)
		}
	}
	return nil
}

func (g *Git) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := g.output(ctx, dir, "status", "--porcelain", "--untracked-files=all", "--ignore-submodules")
	if err != nil {
		return false, wrap("status", err)
	}
	return out != "", nil
}

// IsNotRepo reports whether err came from ValidateRepo rejecting a path.
func IsNotRepo(err error) bool {
	var vErr *Error
	return errors.As(err, &vErr) && vErr.Detail == notARepoMessage
}

// Exclude adds pattern to the repository's info/exclude unless already present.
func (g *Git) Exclude(ctx context.Context, repo, pattern string) error {
	commonDir, err := g.output(ctx, repo, "rev-parse", "--git-common-dir")
	if err != nil {
		return wrap("resolve git dir", err)
	}
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(repo, commonDir)
	}
	path := filepath.Join(commonDir, "info", "exclude")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return wrap("read exclude file", err)
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wrap("update exclude file", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return wrap("update exclude file", err)
	}
	defer f.Close()
	prefix := ""
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		prefix = "\n"
	}
	_, err = f.WriteString(prefix + pattern + "\n")
	return wrap("update exclude file", err)
}
