package lifecycle

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestManager_ContextCancelRunsShutdown(t *testing.T) {
	mgr := NewManager(nil)
	steps := make([]string, 0, 4)
	var mu sync.Mutex
	appendStep := func(v string) {
		mu.Lock()
		steps = append(steps, v)
		mu.Unlock()
	}

	mgr.AddRun("http", func(ctx context.Context) error {
		<-ctx.Done()
		appendStep("run-http-stopped")
		return nil
	})
	mgr.AddShutdown("close-db", func(context.Context) error {
		appendStep("shutdown-db")
		return nil
	})

	parent, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- mgr.StartAndWait(parent)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("StartAndWait should not fail: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !slices.Contains(steps, "run-http-stopped") {
		t.Fatalf("missing run stop marker: %#v", steps)
	}
	if !slices.Contains(steps, "shutdown-db") {
		t.Fatalf("missing shutdown marker: %#v", steps)
	}
}

func TestManager_RunErrorTriggersShutdown(t *testing.T) {
	mgr := NewManager(nil)
	runErr := errors.New("boom")
	shutdownCalled := 0

	mgr.AddRun("http", func(context.Context) error {
		return runErr
	})
	mgr.AddShutdown("close-db", func(context.Context) error {
		shutdownCalled++
		return nil
	})

	err := mgr.StartAndWait(context.Background())
	if !errors.Is(err, runErr) {
		t.Fatalf("expected run error, got %v", err)
	}
	if shutdownCalled != 1 {
		t.Fatalf("expected shutdown called once, got %d", shutdownCalled)
	}
}

func TestManager_ShutdownRunsInOrderAndJoinsErrors(t *testing.T) {
	mgr := NewManager(nil)
	order := make([]string, 0, 3)
	closeErr := errors.New("close failed")

	mgr.AddRun("noop", func(context.Context) error { return nil })
	mgr.AddShutdown("tasks", func(context.Context) error {
		order = append(order, "tasks")
		return nil
	})
	mgr.AddShutdown("db", func(ctx context.Context) error {
		order = append(order, "db")
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected shutdown context to carry a deadline")
		}
		return closeErr
	})
	mgr.AddShutdown("lock", func(context.Context) error {
		order = append(order, "lock")
		return nil
	})

	err := mgr.StartAndWait(context.Background())
	if !errors.Is(err, closeErr) {
		t.Fatalf("expected joined close error, got %v", err)
	}
	if !strings.Contains(err.Error(), "db: close failed") {
		t.Fatalf("expected job name in error, got %v", err)
	}
	if !slices.Equal(order, []string{"tasks", "db", "lock"}) {
		t.Fatalf("unexpected shutdown order: %#v", order)
	}
}
