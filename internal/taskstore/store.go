package taskstore

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	dbmodel "taskdeck/cli/internal/db"
	"taskdeck/cli/internal/status"
	"taskdeck/cli/internal/tasks"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	EventStatus = "status"
	EventExit   = "exit"
)

// Event is one recorded task transition.
type Event struct {
	TaskID    string          `json:"taskId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store records task summaries and transitions. It is a tasks.Sink and serves
// history lookups when existing worktrees are registered again.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore uses the shared DB. Caller must not close the db while the store is in use.
func NewStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Save upserts the summary and appends a status event.
func (s *Store) Save(summary tasks.TaskSummary) error {
	if s == nil || s.db == nil {
		return errors.New("task store is not initialized")
	}
	if strings.TrimSpace(summary.TaskID) == "" {
		return errors.New("task id is required")
	}
	now := s.now().UTC().UnixMilli()
	row := dbmodel.TaskRow{
		TaskID:       summary.TaskID,
		Title:        summary.Title,
		Status:       string(summary.Status),
		AgentKind:    string(summary.AgentKind),
		WorktreePath: summary.WorktreePath,
		BranchName:   summary.BranchName,
		BaseBranch:   summary.BaseBranch,
		BaseRepoPath: summary.BaseRepoPath,
		BaseCommit:   summary.BaseCommit,
		CreatedAt:    toMillis(&summary.CreatedAt),
		StartedAt:    toMillis(summary.StartedAt),
		EndedAt:      toMillis(summary.EndedAt),
		ExitCode:     summary.ExitCode,
		UpdatedAt:    now,
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "status", "agent_kind", "worktree_path", "branch_name", "base_branch",
				"base_repo_path", "base_commit", "started_at", "ended_at", "exit_code", "updated_at",
			}),
		}).Create(&row).Error; err != nil {
			return err
		}
		return appendEvent(tx, summary.TaskID, EventStatus, map[string]any{"status": summary.Status}, now)
	})
}

// RecordExit appends an exit event for a terminal of the task.
func (s *Store) RecordExit(taskID string, exitCode int, kind status.TerminalKind) error {
	if s == nil || s.db == nil {
		return errors.New("task store is not initialized")
	}
	return appendEvent(s.db, taskID, EventExit, map[string]any{"exitCode": exitCode, "kind": kind}, s.now().UTC().UnixMilli())
}

// LookupByWorktree returns the most recently updated summary recorded for path.
func (s *Store) LookupByWorktree(path string) (tasks.TaskSummary, bool, error) {
	if s == nil || s.db == nil {
		return tasks.TaskSummary{}, false, errors.New("task store is not initialized")
	}
	rows := make([]dbmodel.TaskRow, 0, 1)
	if err := s.db.Where("worktree_path = ?", path).Order("updated_at DESC").Limit(1).Find(&rows).Error; err != nil {
		return tasks.TaskSummary{}, false, err
	}
	if len(rows) == 0 {
		return tasks.TaskSummary{}, false, nil
	}
	return rowToSummary(rows[0]), true, nil
}

// Events lists the newest events of a task, oldest first.
func (s *Store) Events(taskID string, limit int) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("task store is not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	rows := make([]dbmodel.TaskEventRow, 0, limit)
	if err := s.db.Where("task_id = ?", taskID).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		out = append(out, Event{
			TaskID:    row.TaskID,
			Type:      row.EventType,
			Payload:   json.RawMessage(row.PayloadJSON),
			CreatedAt: time.UnixMilli(row.CreatedAt).UTC(),
		})
	}
	return out, nil
}

// StatusChanged implements tasks.Sink.
func (s *Store) StatusChanged(summary tasks.TaskSummary) {
	if err := s.Save(summary); err != nil {
		s.logger.Warn("failed to record task status", "task_id", summary.TaskID, "status", summary.Status, "err", err)
	}
}

func (s *Store) TerminalOutput(string, string, status.TerminalKind) {}

func (s *Store) TerminalExit(taskID string, exitCode int, kind status.TerminalKind) {
	if err := s.RecordExit(taskID, exitCode, kind); err != nil {
		s.logger.Warn("failed to record terminal exit", "task_id", taskID, "kind", kind, "err", err)
	}
}

func (s *Store) DiffChanged(string) {}

// Close is a no-op; DB is process-wide and must not be closed by the store.
func (s *Store) Close() error {
	return nil
}

func appendEvent(db *gorm.DB, taskID, eventType string, payload any, at int64) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return db.Create(&dbmodel.TaskEventRow{
		TaskID:      taskID,
		EventType:   eventType,
		PayloadJSON: string(raw),
		CreatedAt:   at,
	}).Error
}

func rowToSummary(row dbmodel.TaskRow) tasks.TaskSummary {
	out := tasks.TaskSummary{
		TaskID:       row.TaskID,
		Title:        row.Title,
		Status:       status.Status(row.Status),
		AgentKind:    status.AgentKind(row.AgentKind),
		WorktreePath: row.WorktreePath,
		BranchName:   row.BranchName,
		BaseBranch:   row.BaseBranch,
		BaseRepoPath: row.BaseRepoPath,
		BaseCommit:   row.BaseCommit,
		StartedAt:    fromMillis(row.StartedAt),
		EndedAt:      fromMillis(row.EndedAt),
		ExitCode:     row.ExitCode,
	}
	if row.CreatedAt > 0 {
		out.CreatedAt = time.UnixMilli(row.CreatedAt).UTC()
	}
	return out
}

func toMillis(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.UnixMilli(v).UTC()
	return &t
}
