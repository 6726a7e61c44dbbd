package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// OpenWithMigrations opens the SQLite database at dsn and brings its schema up to date.
func OpenWithMigrations(dsn string) (*gorm.DB, error) {
	gdb, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(gdb); err != nil {
		_ = Close(gdb)
		return nil, err
	}
	return gdb, nil
}

func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func openSQLite(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database path is required")
	}
	if !isMemoryDSN(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// One connection keeps in-memory databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if !isMemoryDSN(dsn) {
		if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
			return nil, err
		}
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	return gdb, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == MemoryDSN || strings.HasPrefix(dsn, "file::memory:") || strings.Contains(dsn, "mode=memory")
}
