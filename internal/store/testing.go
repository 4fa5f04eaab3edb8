package store

import (
	"testing"

	"github.com/softwareforge/forge/internal/config"
	"gorm.io/gorm"
)

// NewTestDB opens a private in-memory sqlite database with models migrated.
func NewTestDB(tb testing.TB, models ...interface{}) *gorm.DB {
	tb.Helper()
	db, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, DSN: config.Secret(":memory:")}, nil)
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}
	if err := Migrate(db, models...); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}
	tb.Cleanup(func() { _ = Close(db) })
	return db
}
