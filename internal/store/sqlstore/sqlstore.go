// Package sqlstore implements auth.Store on database/sql. The same queries
// run on PostgreSQL (pgx) and SQLite (go-sqlite3); both accept $N
// placeholders and "on conflict do nothing".
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/zahash/mona/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var _ auth.Store = (*Store)(nil)

// Store implements auth.Store.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users() auth.UserStore               { return &userStore{q: s.db} }
func (s *Store) Sessions() auth.SessionStore         { return &sessionStore{q: s.db} }
func (s *Store) AccessTokens() auth.AccessTokenStore { return &accessTokenStore{q: s.db} }
func (s *Store) Permissions() auth.PermissionStore   { return &permissionStore{db: s.db} }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

// InTx runs fn in a transaction and commits when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx auth.Tx) error) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListAudit returns the newest audit entries first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]auth.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, assigner_type, assigner_id, assignee_type, assignee_id, permission_id, action, created_at
		from permissions_audit_log
		order by created_at desc, id desc
		limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.AuditEntry
	for rows.Next() {
		var (
			e                          auth.AuditEntry
			assignerType, assigneeType string
			action                     string
		)
		if err := rows.Scan(&e.ID, &assignerType, &e.Assigner.ID, &assigneeType, &e.Assignee.ID, &e.PermissionID, &action, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Assigner.Type = auth.SubjectType(assignerType)
		e.Assignee.Type = auth.SubjectType(assigneeType)
		e.Action = auth.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mapError translates driver constraint errors into auth sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", auth.ErrNotFound, pgErr.ConstraintName)
		}
		return err
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", auth.ErrConflict, liteErr)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", auth.ErrNotFound, liteErr)
		}
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	return err
}
