// Package migrate drives schema migrations and SQL seed files for the
// operator CLI.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/database"
	"github.com/zahash/mona/internal/store/sqlstore"
)

const defaultSeedsTable = "schema_seeds"

// Manager applies the embedded migrations and, optionally, seed files from
// a directory. Each seed file runs at most once.
type Manager struct {
	db         *sql.DB
	dialect    database.Dialect
	seeds      fs.FS
	seedsTable string
}

// Option configures Manager.
type Option func(*Manager)

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithSeedsDir reads seed files from dir.
func WithSeedsDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.seeds = os.DirFS(dir)
		}
	}
}

// WithSeedsFS reads seed files from the root of fsys.
func WithSeedsFS(fsys fs.FS) Option {
	return func(m *Manager) {
		m.seeds = fsys
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, dialect database.Dialect, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		dialect:    dialect,
		seedsTable: defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations and returns the versions applied.
func (m *Manager) Up(ctx context.Context) ([]int64, error) {
	p, err := database.NewMigrator(m.db, m.dialect)
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose up: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (int64, error) {
	p, err := database.NewMigrator(m.db, m.dialect)
	if err != nil {
		return 0, err
	}
	r, err := p.Down(ctx)
	if err != nil {
		return 0, fmt.Errorf("goose down: %w", err)
	}
	return r.Source.Version, nil
}

// Status describes every known migration.
type Status struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

func (m *Manager) Status(ctx context.Context) ([]Status, error) {
	p, err := database.NewMigrator(m.db, m.dialect)
	if err != nil {
		return nil, err
	}
	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, Status{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

// SeedCatalog inserts the built-in permissions and the signup group.
func (m *Manager) SeedCatalog(ctx context.Context) error {
	perms := sqlstore.New(m.db).Permissions()
	if err := perms.Ensure(ctx, auth.BuiltinPermissions); err != nil {
		return err
	}
	return perms.EnsureGroup(ctx, auth.GroupSignup, auth.SignupPermissions)
}

// Seed applies pending seed files in name order and returns their names.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	if m.seeds == nil {
		return nil, errors.New("no seeds directory configured")
	}
	if err := m.ensureSeedsTable(ctx); err != nil {
		return nil, err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return nil, err
	}
	files, err := collectSQL(m.seeds)
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, name := range files {
		if executed[name] {
			continue
		}
		if err := m.exec(ctx, name); err != nil {
			return applied, fmt.Errorf("apply seed %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

func (m *Manager) ensureSeedsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamp not null
		)`, m.seedsTable))
	return err
}

// exec runs one seed file and records it in the same transaction.
func (m *Manager) exec(ctx context.Context, name string) error {
	sqlBytes, err := fs.ReadFile(m.seeds, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(sqlBytes)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.seedsTable),
		name, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, m.seedsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result[name] = true
	}
	return result, rows.Err()
}

func collectSQL(fsys fs.FS) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path.Ext(p) == ".sql" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	var inString bool
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
