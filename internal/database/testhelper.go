package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestSQLite opens a migrated SQLite database in t.TempDir() and
// registers cleanup.
func OpenTestSQLite(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, _, err := Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(ctx, db, SQLite); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}
