package sqlstore

import (
	"context"
	"database/sql"

	"github.com/zahash/mona/internal/auth"
)

type txStore struct{ tx *sql.Tx }

func (t *txStore) SubjectHas(ctx context.Context, subject auth.Subject, permission string) (bool, error) {
	return subjectHas(ctx, t.tx, subject, permission)
}

func (t *txStore) FindUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	return findUserByUsername(ctx, t.tx, username)
}

func (t *txStore) FindAccessTokenByName(ctx context.Context, userID, name string) (*auth.AccessToken, error) {
	return findAccessTokenByName(ctx, t.tx, userID, name)
}

func (t *txStore) FindPermission(ctx context.Context, name string) (*auth.Permission, error) {
	var (
		p    auth.Permission
		desc sql.NullString
	)
	err := t.tx.QueryRowContext(ctx, `select id, permission, description from permissions where permission = $1`, name).
		Scan(&p.ID, &p.Name, &desc)
	if err != nil {
		return nil, notFound(err)
	}
	p.Description = desc.String
	return &p, nil
}

func (t *txStore) Grant(ctx context.Context, subject auth.Subject, permissionID string) error {
	table, column, err := grantTable(subject.Type)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		insert into `+table+`(`+column+`, permission_id) values ($1, $2)
		on conflict do nothing`, subject.ID, permissionID)
	return mapError(err)
}

func (t *txStore) Revoke(ctx context.Context, subject auth.Subject, permissionID string) error {
	table, column, err := grantTable(subject.Type)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `delete from `+table+` where `+column+` = $1 and permission_id = $2`, subject.ID, permissionID)
	return err
}

func (t *txStore) AppendAudit(ctx context.Context, e *auth.AuditEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into permissions_audit_log(id, assigner_type, assigner_id, assignee_type, assignee_id, permission_id, action, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, string(e.Assigner.Type), e.Assigner.ID, string(e.Assignee.Type), e.Assignee.ID, e.PermissionID, string(e.Action), e.CreatedAt,
	)
	return mapError(err)
}

func (t *txStore) CreateUser(ctx context.Context, u *auth.User) error {
	return createUser(ctx, t.tx, u)
}

func (t *txStore) GrantGroup(ctx context.Context, userID, group string) error {
	_, err := t.tx.ExecContext(ctx, `
		insert into user_permissions(user_id, permission_id)
		select cast($1 as text), a.permission_id
		from permission_group_associations a
		join permission_groups g on g.id = a.permission_group_id
		where g.name = $2
		on conflict do nothing`, userID, group)
	return mapError(err)
}
