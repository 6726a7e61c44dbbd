package migration

import (
	"fmt"

	"gorm.io/gorm"
)

type step struct {
	name string
	run  func(*Migration) error
}

// Steps are idempotent and run on every startup, in order.
var steps = []step{
	{name: "backfill_task_updated_at", run: backfillTaskUpdatedAt},
	{name: "uppercase_task_status", run: uppercaseTaskStatus},
}

// Migration is passed to each migration step. DB is set by RunAll.
type Migration struct {
	DB   *gorm.DB
	logs []string
}

func (m *Migration) Log(v ...interface{}) {
	m.logs = append(m.logs, fmt.Sprint(v...))
}

// RunAll runs all registered migrations in order. Used for data one-shots; schema is synced via db.SyncSchema.
func RunAll(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	ctx := &Migration{DB: db}
	for _, s := range steps {
		ctx.logs = nil
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", s.name, err)
		}
	}
	return nil
}

func backfillTaskUpdatedAt(m *Migration) error {
	res := m.DB.Exec(`UPDATE tasks SET updated_at = created_at WHERE updated_at = 0 AND created_at > 0`)
	if res.Error != nil {
		return res.Error
	}
	m.Log("backfilled updated_at rows=", res.RowsAffected)
	return nil
}

// uppercaseTaskStatus normalizes rows written with lowercase status names.
func uppercaseTaskStatus(m *Migration) error {
	res := m.DB.Exec(`UPDATE tasks SET status = UPPER(status) WHERE status <> UPPER(status)`)
	if res.Error != nil {
		return res.Error
	}
	m.Log("normalized status rows=", res.RowsAffected)
	return nil
}
