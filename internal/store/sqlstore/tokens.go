package sqlstore

import (
	"context"
	"database/sql"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/ids"
)

type accessTokenStore struct{ q querier }

func (s *accessTokenStore) Create(ctx context.Context, t *auth.AccessToken) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	var expires sql.NullTime
	if t.ExpiresAt != nil {
		expires = sql.NullTime{Time: *t.ExpiresAt, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		insert into access_tokens(id, name, token_hash, user_id, created_at, expires_at)
		values ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, t.Hash, t.UserID, t.CreatedAt, expires,
	)
	return mapError(err)
}

const selectAccessToken = `select id, name, token_hash, user_id, created_at, expires_at from access_tokens`

func scanAccessToken(row *sql.Row) (*auth.AccessToken, error) {
	var (
		t       auth.AccessToken
		expires sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Hash, &t.UserID, &t.CreatedAt, &expires); err != nil {
		return nil, notFound(err)
	}
	if expires.Valid {
		exp := expires.Time
		t.ExpiresAt = &exp
	}
	return &t, nil
}

func (s *accessTokenStore) FindByHash(ctx context.Context, hash []byte) (*auth.AccessToken, error) {
	return scanAccessToken(s.q.QueryRowContext(ctx, selectAccessToken+` where token_hash = $1`, hash))
}

func (s *accessTokenStore) FindByName(ctx context.Context, userID, name string) (*auth.AccessToken, error) {
	return findAccessTokenByName(ctx, s.q, userID, name)
}

func findAccessTokenByName(ctx context.Context, q querier, userID, name string) (*auth.AccessToken, error) {
	return scanAccessToken(q.QueryRowContext(ctx, selectAccessToken+` where user_id = $1 and name = $2`, userID, name))
}
