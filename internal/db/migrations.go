package db

import (
	"errors"

	"taskdeck/cli/internal/db/migration"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables and indexes from models. Table structure changes do not use versioned migrations.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(
		&TaskRow{},
		&TaskEventRow{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_task_events_task_created_at ON task_events(task_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_base_repo_path ON tasks(base_repo_path);`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// MigrateUp syncs schema then runs data migrations.
func MigrateUp(db *gorm.DB) error {
	if err := SyncSchema(db); err != nil {
		return err
	}
	return migration.RunAll(db)
}
