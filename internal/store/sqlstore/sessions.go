package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/zahash/mona/internal/auth"
)

type sessionStore struct{ q querier }

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.q.ExecContext(ctx, `
		insert into sessions(id_hash, user_id, user_agent, created_at, expires_at)
		values ($1, $2, $3, $4, $5)`,
		sess.IDHash, sess.UserID, nullString(sess.UserAgent), sess.CreatedAt, sess.ExpiresAt,
	)
	return mapError(err)
}

func (s *sessionStore) FindByHash(ctx context.Context, idHash []byte) (*auth.Session, error) {
	var (
		sess      auth.Session
		userAgent sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select id_hash, user_id, user_agent, created_at, expires_at
		from sessions where id_hash = $1`, idHash,
	).Scan(&sess.IDHash, &sess.UserID, &userAgent, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	sess.UserAgent = userAgent.String
	return &sess, nil
}

func (s *sessionStore) Delete(ctx context.Context, idHash []byte) error {
	res, err := s.q.ExecContext(ctx, `delete from sessions where id_hash = $1`, idHash)
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

func (s *sessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `delete from sessions where expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
