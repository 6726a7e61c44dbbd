package taskstore

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	dbmodel "taskdeck/cli/internal/db"
	"taskdeck/cli/internal/status"
	"taskdeck/cli/internal/tasks"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := dbmodel.OpenWithMigrations(filepath.Join(t.TempDir(), "taskdeck.db"))
	if err != nil {
		t.Fatalf("open db failed: %v", err)
	}
	t.Cleanup(func() { _ = dbmodel.Close(gdb) })
	st, err := NewStore(gdb, nil)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	return st
}

func TestNewStore_RequiresDB(t *testing.T) {
	if _, err := NewStore(nil, nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestStore_SaveAndLookupByWorktree(t *testing.T) {
	st := newTestStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	summary := tasks.TaskSummary{
		TaskID:       "2b1f6d8e-7c44-4b8e-9a55-1f0e3a6f7c21",
		Title:        "Add login",
		Status:       status.Stopped,
		AgentKind:    status.AgentCopilot,
		CreatedAt:    created,
		WorktreePath: "/repo/.taskdeck/worktrees/2b1f6d8e-7c44-4b8e-9a55-1f0e3a6f7c21",
		BranchName:   "feature/add-login",
		BaseBranch:   "main",
		BaseRepoPath: "/repo",
		BaseCommit:   "abc123",
	}
	if err := st.Save(summary); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	started := created.Add(time.Minute)
	code := 2
	summary.Status = status.Failed
	summary.StartedAt = &started
	summary.ExitCode = &code
	summary.CreatedAt = created.Add(time.Hour)
	if err := st.Save(summary); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, ok, err := st.LookupByWorktree(summary.WorktreePath)
	if err != nil || !ok {
		t.Fatalf("lookup failed: ok=%v err=%v", ok, err)
	}
	if got.Title != "Add login" || got.AgentKind != status.AgentCopilot || got.BaseCommit != "abc123" {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if got.Status != status.Failed {
		t.Fatalf("expected latest status, got %s", got.Status)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at to be kept from first save, got %v", got.CreatedAt)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("unexpected started_at: %v", got.StartedAt)
	}
	if got.EndedAt != nil {
		t.Fatalf("expected nil ended_at, got %v", got.EndedAt)
	}
	if got.ExitCode == nil || *got.ExitCode != 2 {
		t.Fatalf("unexpected exit code: %v", got.ExitCode)
	}

	if _, ok, err := st.LookupByWorktree("/elsewhere"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
}

func TestStore_RecordsEventsAsSink(t *testing.T) {
	st := newTestStore(t)
	var sink tasks.Sink = st
	summary := tasks.TaskSummary{TaskID: "t1", Status: status.Idle, CreatedAt: time.Now()}

	sink.StatusChanged(summary)
	sink.TerminalOutput("t1", "ignored", status.TerminalAgent)
	sink.TerminalExit("t1", 0, status.TerminalAgent)
	sink.DiffChanged("t1")

	events, err := st.Events("t1", 0)
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != EventStatus || events[1].Type != EventExit {
		t.Fatalf("unexpected event order: %+v", events)
	}
	var payload struct {
		ExitCode int    `json:"exitCode"`
		Kind     string `json:"kind"`
	}
	if err := json.Unmarshal(events[1].Payload, &payload); err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if payload.ExitCode != 0 || payload.Kind != "agent" {
		t.Fatalf("unexpected exit payload: %+v", payload)
	}
}

func TestStore_SaveRequiresTaskID(t *testing.T) {
	st := newTestStore(t)
	if err := st.Save(tasks.TaskSummary{}); err == nil {
		t.Fatal("expected error for empty task id")
	}
}
