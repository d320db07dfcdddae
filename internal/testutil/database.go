package testutil

import (
	"testing"

	"lockss-go/internal/database"
	"lockss-go/internal/database/migrations"
	"lockss-go/internal/lockss"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) lockss.Database {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// CreateTestAU registers an archival unit with a fresh state.
func CreateTestAU(t *testing.T, db lockss.Database, id, baseURL string) *lockss.ArchivalUnit {
	t.Helper()

	now := FixedClock().Now()
	au := &lockss.ArchivalUnit{ID: id, Name: "AU " + id, BaseURL: baseURL, CreatedAt: now}
	if err := db.CreateArchivalUnit(au, lockss.NewAuState(id, now)); err != nil {
		t.Fatalf("failed to create archival unit %s: %v", id, err)
	}
	return au
}
