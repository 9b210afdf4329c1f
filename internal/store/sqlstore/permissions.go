package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/ids"
)

type permissionStore struct{ db *sql.DB }

// Ensure inserts catalog entries that do not exist yet.
func (s *permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions(id, permission, description)
			values ($1, $2, $3)
			on conflict (permission) do nothing`,
			id, p.Name, nullString(p.Description),
		); err != nil {
			return fmt.Errorf("ensure permission %s: %w", p.Name, err)
		}
	}
	return nil
}

// EnsureGroup creates the group if needed and adds the named permissions to
// it. Unknown permission names are skipped.
func (s *permissionStore) EnsureGroup(ctx context.Context, group string, permissions []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into permission_groups(id, name) values ($1, $2)
		on conflict (name) do nothing`, ids.New(), group,
	); err != nil {
		return fmt.Errorf("ensure group %s: %w", group, err)
	}
	var groupID string
	if err := tx.QueryRowContext(ctx, `select id from permission_groups where name = $1`, group).Scan(&groupID); err != nil {
		return fmt.Errorf("load group %s: %w", group, err)
	}
	for _, name := range permissions {
		if _, err := tx.ExecContext(ctx, `
			insert into permission_group_associations(permission_group_id, permission_id)
			select cast($1 as text), id from permissions where permission = $2
			on conflict do nothing`, groupID, name,
		); err != nil {
			return fmt.Errorf("add %s to group %s: %w", name, group, err)
		}
	}
	return tx.Commit()
}

func (s *permissionStore) ForUser(ctx context.Context, userID string) ([]auth.Permission, error) {
	return listPermissions(ctx, s.db, `
		select p.id, p.permission, p.description
		from permissions p
		join user_permissions up on up.permission_id = p.id
		where up.user_id = $1
		order by p.permission`, userID)
}

func (s *permissionStore) ForAccessToken(ctx context.Context, tokenID string) ([]auth.Permission, error) {
	return listPermissions(ctx, s.db, `
		select p.id, p.permission, p.description
		from permissions p
		join access_token_permissions ap on ap.permission_id = p.id
		where ap.access_token_id = $1
		order by p.permission`, tokenID)
}

func (s *permissionStore) UserHas(ctx context.Context, userID, permission string) (bool, error) {
	return subjectHas(ctx, s.db, auth.Subject{Type: auth.SubjectUser, ID: userID}, permission)
}

func (s *permissionStore) AccessTokenHas(ctx context.Context, tokenID, permission string) (bool, error) {
	return subjectHas(ctx, s.db, auth.Subject{Type: auth.SubjectAccessToken, ID: tokenID}, permission)
}

func listPermissions(ctx context.Context, q querier, query string, args ...any) ([]auth.Permission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Permission
	for rows.Next() {
		var (
			p    auth.Permission
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &desc); err != nil {
			return nil, err
		}
		p.Description = desc.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// grantTable maps a subject type to its grant table and subject column.
func grantTable(t auth.SubjectType) (table, column string, err error) {
	switch t {
	case auth.SubjectUser:
		return "user_permissions", "user_id", nil
	case auth.SubjectAccessToken:
		return "access_token_permissions", "access_token_id", nil
	}
	return "", "", fmt.Errorf("%w: subject type %q", auth.ErrInvalidInput, t)
}

func subjectHas(ctx context.Context, q querier, subject auth.Subject, permission string) (bool, error) {
	table, column, err := grantTable(subject.Type)
	if err != nil {
		return false, err
	}
	var exists bool
	err = q.QueryRowContext(ctx, `
		select exists(
			select 1 from `+table+` g
			join permissions p on p.id = g.permission_id
			where g.`+column+` = $1 and p.permission = $2
		)`, subject.ID, permission,
	).Scan(&exists)
	return exists, err
}
