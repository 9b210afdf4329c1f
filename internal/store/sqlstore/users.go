package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/ids"
)

type userStore struct{ q querier }

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	return createUser(ctx, s.q, u)
}

func createUser(ctx context.Context, q querier, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		insert into users(id, username, email, email_verified, password_hash, created_at)
		values ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, u.EmailVerified, u.PasswordHash, u.CreatedAt,
	)
	return mapError(err)
}

const selectUser = `select id, username, email, email_verified, password_hash, created_at from users`

func scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.EmailVerified, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, selectUser+` where id = $1`, id))
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return findUserByUsername(ctx, s.q, username)
}

func findUserByUsername(ctx context.Context, q querier, username string) (*auth.User, error) {
	return scanUser(q.QueryRowContext(ctx, selectUser+` where username = $1`, username))
}

func (s *userStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `select exists(select 1 from users where username = $1)`, username).Scan(&exists)
	return exists, err
}

func (s *userStore) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `select exists(select 1 from users where email = $1)`, email).Scan(&exists)
	return exists, err
}

func (s *userStore) MarkEmailVerified(ctx context.Context, email string) error {
	res, err := s.q.ExecContext(ctx, `update users set email_verified = true where email = $1`, email)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
