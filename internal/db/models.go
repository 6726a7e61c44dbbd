package db

// TaskRow is the last known summary of a task. Timestamps are unix milliseconds; zero means unset.
type TaskRow struct {
	TaskID       string `gorm:"column:task_id;primaryKey"`
	Title        string `gorm:"column:title;not null;default:''"`
	Status       string `gorm:"column:status;not null;default:''"`
	AgentKind    string `gorm:"column:agent_kind;not null;default:''"`
	WorktreePath string `gorm:"column:worktree_path;not null;default:'';index:idx_tasks_worktree_path"`
	BranchName   string `gorm:"column:branch_name;not null;default:''"`
	BaseBranch   string `gorm:"column:base_branch;not null;default:''"`
	BaseRepoPath string `gorm:"column:base_repo_path;not null;default:''"`
	BaseCommit   string `gorm:"column:base_commit;not null;default:''"`
	CreatedAt    int64  `gorm:"column:created_at;not null;default:0"`
	StartedAt    int64  `gorm:"column:started_at;not null;default:0"`
	EndedAt      int64  `gorm:"column:ended_at;not null;default:0"`
	ExitCode     *int   `gorm:"column:exit_code"`
	UpdatedAt    int64  `gorm:"column:updated_at;not null;default:0"`
}

func (TaskRow) TableName() string { return "tasks" }

type TaskEventRow struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TaskID      string `gorm:"column:task_id;not null"`
	EventType   string `gorm:"column:event_type;not null"`
	PayloadJSON string `gorm:"column:payload_json;not null;default:''"`
	CreatedAt   int64  `gorm:"column:created_at;not null;default:0"`
}

func (TaskEventRow) TableName() string { return "task_events" }
