package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/logging"
	"gorm.io/gorm"
)

// DefaultSlowThreshold is the query duration above which SQL is logged as slow.
const DefaultSlowThreshold = 200 * time.Millisecond

// Open opens the SQLite database at dsn and runs migrations.
func Open(dsn string) (*gorm.DB, error) {
	return open(dsn, DefaultSlowThreshold)
}

// SQLite allows a single writer, so the pool is limited to one connection; concurrent
// callers queue on the pool instead of failing with SQLITE_BUSY.
func open(dsn string, slowThreshold time.Duration) (*gorm.DB, error) {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowThreshold
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logging.GormLogger(slowThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// InitDB opens the database file at path with WAL journaling and foreign keys.
func InitDB(path string, slowThreshold time.Duration) (*gorm.DB, error) {
	return open(path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", slowThreshold)
}

// Migrate auto-migrates all models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// OpenInMemory opens a private in-memory database, used by tests and dry runs.
func OpenInMemory() (*gorm.DB, error) {
	return Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
}
