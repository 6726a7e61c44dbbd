package vcs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not available")
	}
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("eval symlinks: %v", err)
	}
	dir = resolved
	gitRun(t, dir, "init")
	gitRun(t, dir, "config", "user.email", "test@test.com")
	gitRun(t, dir, "config", "user.name", "Test User")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\nline two\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", "initial")
	return dir
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func newTestGit() *Git {
	return New(&ExecRunner{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidateRepo(t *testing.T) {
	repo := initTestRepo(t)
	g := newTestGit()
	ctx := context.Background()

	if err := g.ValidateRepo(ctx, repo); err != nil {
		t.Fatalf("expected repo to validate, got %v", err)
	}
	err := g.ValidateRepo(ctx, t.TempDir())
	if !IsNotRepo(err) {
		t.Fatalf("expected not-a-repo error, got %v", err)
	}
	if !strings.Contains(err.Error(), "not a Git repository") {
		t.Fatalf("unexpected message: %v", err)
	}
	if !IsNotRepo(g.ValidateRepo(ctx, filepath.Join(repo, "missing"))) {
		t.Fatal("expected missing dir to be rejected")
	}
}

func TestRepoRootAndHead(t *testing.T) {
	repo := initTestRepo(t)
	g := newTestGit()
	ctx := context.Background()

	sub := filepath.Join(repo, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	root, err := g.RepoRoot(ctx, sub)
	if err != nil {
		t.Fatalf("repo root: %v", err)
	}
	if root != repo {
		t.Fatalf("expected root %s, got %s", repo, root)
	}
	head, err := g.HeadCommit(ctx, repo)
	if err != nil || len(head) != 40 {
		t.Fatalf("expected 40-char head, got %q %v", head, err)
	}
	branch, err := g.HeadBranch(ctx, repo)
	if err != nil || branch == "" || branch == "HEAD" {
		t.Fatalf("expected branch name, got %q %v", branch, err)
	}
	if _, err := g.ResolveCommit(ctx, repo, "does-not-exist"); err == nil {
		t.Fatal("expected unknown ref to fail")
	}
}

func TestWorktreeLifecycle(t *testing.T) {
	repo := initTestRepo(t)
	g := newTestGit()
	ctx := context.Background()
	wt := filepath.Join(repo, ".taskdeck", "worktrees", "one")

	if err := g.AddWorktree(ctx, repo, "feature/one", wt, "HEAD"); err != nil {
		t.Fatalf("add worktree: %v", err)
	}
	branch, err := g.HeadBranch(ctx, wt)
	if err != nil || branch != "feature/one" {
		t.Fatalf("expected worktree on feature/one, got %q %v", branch, err)
	}

	entries, err := g.ListWorktrees(ctx, repo)
	if err != nil {
		t.Fatalf("list worktrees: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Path == wt {
			found = true
			if e.Branch != "feature/one" || len(e.Head) != 40 {
				t.Fatalf("unexpected entry: %+v", e)
			}
		}
	}
	if !found || len(entries) != 2 {
		t.Fatalf("expected main and linked worktree, got %+v", entries)
	}

	branches, err := g.ListBranches(ctx, repo)
	if err != nil {
		t.Fatalf("list branches: %v", err)
	}
	if !strings.Contains(strings.Join(branches, ","), "feature/one") {
		t.Fatalf("expected feature/one in %v", branches)
	}

	if err := g.RemoveWorktree(ctx, repo, wt); err != nil {
		t.Fatalf("remove worktree: %v", err)
	}
	if err := g.DeleteBranch(ctx, repo, "feature/one"); err != nil {
		t.Fatalf("delete branch: %v", err)
	}
	if err := g.DeleteBranch(ctx, repo, "feature/one"); err != nil {
		t.Fatalf("deleting a missing branch should be a no-op: %v", err)
	}
	if err := g.PruneWorktrees(ctx, repo); err != nil {
		t.Fatalf("prune: %v", err)
	}
}

func TestAddWorktree_ReusesExistingBranch(t *testing.T) {
	repo := initTestRepo(t)
	g := newTestGit()
	ctx := context.Background()
	gitRun(t, repo, "branch", "existing")
	wt := filepath.Join(t.TempDir(), "wt")
	if err := g.AddWorktree(ctx, repo, "existing", wt, "HEAD"); err != nil {
		t.Fatalf("add worktree on existing branch: %v", err)
	}
	if b, _ := g.HeadBranch(ctx, wt); b != "existing" {
		t.Fatalf("expected existing branch, got %q", b)
	}
}

func TestDiffCommitAndChanges(t *testing.T) {
	repo := initTestRepo(t)
	g := newTestGit()
	ctx := context.Background()

	dirty, err := g.HasChanges(ctx, repo)
	if err != nil || dirty {
		t.Fatalf("expected clean repo, got %v %v", dirty, err)
	}
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("# Test\nline 2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(repo, "new.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if dirty, _ := g.HasChanges(ctx, repo); !dirty {
		t.Fatal("expected untracked and modified files to count as changes")
	}
	if err := g.StageAll(ctx, repo); err != nil {
		t.Fatalf("stage all: %v", err)
	}
	files, err := g.Diff(ctx, repo, "HEAD", false)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	byPath := map[string]DiffFile{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	if byPath["README.md"].Status != "M" || byPath["new.txt"].Status != "A" {
		t.Fatalf("unexpected statuses: %+v", files)
	}

	if err := g.Commit(ctx, repo, "  ", true); err == nil {
		t.Fatal("expected empty message to be rejected")
	}
	if err := g.Commit(ctx, repo, "update", true); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if dirty, _ := g.HasChanges(ctx, repo); dirty {
		t.Fatal("expected clean tree after commit")
	}
}

func TestExcludeIsIdempotent(t *testing.T) {
	repo := initTestRepo(t)
	g := newTestGit()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := g.Exclude(ctx, repo, "/.taskdeck/"); err != nil {
			t.Fatalf("exclude: %v", err)
		}
	}
	raw, err := os.ReadFile(filepath.Join(repo, ".git", "info", "exclude"))
	if err != nil {
		t.Fatalf("read exclude: %v", err)
	}
	if strings.Count(string(raw), "/.taskdeck/") != 1 {
		t.Fatalf("expected pattern once, got %q", raw)
	}
	if err := os.MkdirAll(filepath.Join(repo, ".taskdeck", "worktrees"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(repo, ".taskdeck", "worktrees", "x"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if dirty, _ := g.HasChanges(ctx, repo); dirty {
		t.Fatal("expected excluded directory to be ignored")
	}
}

func TestParseWorktreeList(t *testing.T) {
	out := []byte("worktree /repo\nHEAD 1111111111111111111111111111111111111111\nbranch refs/heads/main\n\n" +
		"worktree /repo/.taskdeck/worktrees/a\nHEAD 2222222222222222222222222222222222222222\ndetached\n\n" +
		"worktree /gone\nprunable gitdir file points to non-existent location\n")
	entries := parseWorktreeList(out)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if entries[0].Branch != "main" || entries[1].Branch != "" {
		t.Fatalf("unexpected branches: %+v", entries)
	}
}
