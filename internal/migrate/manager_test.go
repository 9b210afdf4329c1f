package migrate

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/zahash/mona/internal/database"
)

func openSQLite(t *testing.T) *Manager {
	t.Helper()
	db, dialect, err := database.Open(context.Background(), "sqlite:"+filepath.Join(t.TempDir(), "m.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	seeds := fstest.MapFS{
		"001_admin.sql": {Data: []byte(`
			insert into users(id, username, email, password_hash, created_at)
			values ('u-admin', 'admin', 'admin@example.com', 'x', '2024-01-01 00:00:00');
			insert into user_permissions(user_id, permission_id)
			select 'u-admin', id from permissions where permission = 'post:/permissions';`)},
		"README.md": {Data: []byte("ignored")},
	}
	return NewManager(db, dialect, WithSeedsFS(seeds))
}

func TestUpStatusDown(t *testing.T) {
	ctx := context.Background()
	m := openSQLite(t)

	applied, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(applied) != 1 || applied[0] != 1 {
		t.Fatalf("unexpected applied versions: %v", applied)
	}

	status, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) != 1 || !status[0].Applied {
		t.Fatalf("unexpected status: %+v", status)
	}

	again, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("second up: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no pending migrations, got %v", again)
	}

	version, err := m.Down(ctx)
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected to roll back version 1, got %d", version)
	}
}

func TestSeedRunsOnce(t *testing.T) {
	ctx := context.Background()
	m := openSQLite(t)
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := m.SeedCatalog(ctx); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if err := m.SeedCatalog(ctx); err != nil {
		t.Fatalf("seed catalog twice: %v", err)
	}

	applied, err := m.Seed(ctx)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(applied) != 1 || applied[0] != "001_admin.sql" {
		t.Fatalf("unexpected seeds: %v", applied)
	}
	applied, err = m.Seed(ctx)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected seeds to be skipped, got %v", applied)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, `select count(*) from user_permissions where user_id = 'u-admin'`).Scan(&n); err != nil {
		t.Fatalf("count grants: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 grant, got %d", n)
	}
}

func TestSeedWithoutDirectory(t *testing.T) {
	m := NewManager(nil, database.SQLite)
	if _, err := m.Seed(context.Background()); err == nil {
		t.Fatal("expected error without seeds directory")
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(`insert into t values ('a;b'); select 1;  `)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
	if stmts[0] != `insert into t values ('a;b');` {
		t.Fatalf("unexpected first statement: %q", stmts[0])
	}
}
