package diffwatch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, root string) (*Watcher, <-chan struct{}) {
	t.Helper()
	ch := make(chan struct{}, 16)
	w, err := Watch(root, 20*time.Millisecond, func() { ch <- struct{}{} }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, ch
}

func waitChange(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("expected change notification")
	}
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

func TestWatch_NotifiesOnFileWrite(t *testing.T) {
	root := t.TempDir()
	_, ch := newTestWatcher(t, root)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitChange(t, ch)
}

func TestWatch_FollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	_, ch := newTestWatcher(t, root)
	sub := filepath.Join(root, "pkg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	waitChange(t, ch)
	drain(ch)
	if err := os.WriteFile(filepath.Join(sub, "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitChange(t, ch)
}

func TestWatch_IgnoresGitDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_, ch := newTestWatcher(t, root)
	if err := os.WriteFile(filepath.Join(root, ".git", "index"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("did not expect notification for .git changes")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatch_CloseIsIdempotent(t *testing.T) {
	w, _ := newTestWatcher(t, t.TempDir())
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestWatch_MissingRootFails(t *testing.T) {
	if _, err := Watch(filepath.Join(t.TempDir(), "missing"), 0, func() {}, nil); err == nil {
		t.Fatal("expected error for missing root")
	}
}
