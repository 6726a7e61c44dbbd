package diffwatch

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 200 * time.Millisecond

// Watcher reports content changes anywhere below a worktree root. Bursts of
// filesystem events collapse into one callback per debounce window.
type Watcher struct {
	fw       *fsnotify.Watcher
	root     string
	debounce time.Duration
	onChange func()
	logger   *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
	done    chan struct{}
	stopped chan struct{}
}

func Watch(root string, debounce time.Duration, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("change callback is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fw:       fw,
		root:     root,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	close(w.done)
	err := w.fw.Close()
	<-w.stopped
	return err
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(evt)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("diff watch error", "root", w.root, "err", err)
		}
	}
}

func (w *Watcher) handle(evt fsnotify.Event) {
	if skipPath(evt.Name) {
		return
	}
	if evt.Has(fsnotify.Create) {
		if err := w.addTree(evt.Name); err != nil {
			w.logger.Debug("watch new path skipped", "path", evt.Name, "err", err)
		}
	}
	if !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Rename) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.onChange()
	}
}

// addTree watches path and, when it is a directory, every directory below it.
func (w *Watcher) addTree(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && skipPath(p) {
			return filepath.SkipDir
		}
		return w.fw.Add(p)
	})
}

func skipPath(p string) bool {
	return filepath.Base(p) == ".git"
}
