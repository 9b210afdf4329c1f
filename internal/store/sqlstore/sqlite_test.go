package sqlstore

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/database"
)

const password = "Secr3t!pass"

func newSQLiteService(t *testing.T) (*Store, *auth.Service) {
	t.Helper()
	ctx := context.Background()
	store := New(database.OpenTestSQLite(t))
	require.NoError(t, store.Permissions().Ensure(ctx, append(auth.BuiltinPermissions, auth.Permission{Name: "post:/x"})))
	require.NoError(t, store.Permissions().EnsureGroup(ctx, auth.GroupSignup, auth.SignupPermissions))

	svc, err := auth.NewService(store)
	require.NoError(t, err)
	return store, svc
}

func basic(username string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	return h
}

func TestSQLiteSignupLoginResolve(t *testing.T) {
	store, svc := newSQLiteService(t)
	ctx := context.Background()

	u, err := svc.Signup(ctx, auth.SignupRequest{Username: "joe", Email: "joe@example.com", Password: password})
	require.NoError(t, err)

	_, err = svc.Signup(ctx, auth.SignupRequest{Username: "joe", Email: "joe2@example.com", Password: password})
	require.ErrorIs(t, err, auth.ErrConflict)

	id, _, err := svc.Login(ctx, "joe", password, "test")
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Cookie", auth.SessionCookieName+"="+id.Encode())
	p, err := svc.Resolve(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID())

	perms, err := p.Permissions(ctx)
	require.NoError(t, err)
	var names []string
	for _, perm := range perms {
		names = append(names, perm.Name)
	}
	assert.ElementsMatch(t, auth.SignupPermissions, names)

	ttl := time.Hour
	tok, _, err := svc.GenerateAccessToken(ctx, p, "ci", &ttl)
	require.NoError(t, err)
	tp, err := svc.Resolve(ctx, http.Header{"Authorization": {"Token " + tok.Encode()}})
	require.NoError(t, err)
	assert.Equal(t, auth.SchemeAccessToken, tp.Scheme())

	require.NoError(t, store.Users().MarkEmailVerified(ctx, "joe@example.com"))
	got, err := store.Users().Find(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
}

func TestSQLiteGrantsAndAudit(t *testing.T) {
	store, svc := newSQLiteService(t)
	ctx := context.Background()

	for _, name := range []string{"joe", "admin"} {
		_, err := svc.Signup(ctx, auth.SignupRequest{Username: name, Email: name + "@example.com", Password: password})
		require.NoError(t, err)
	}
	admin, err := svc.Resolve(ctx, basic("admin"))
	require.NoError(t, err)

	err = svc.AssignPermission(ctx, admin, "post:/x", auth.Assignee{Username: "joe"})
	require.ErrorIs(t, err, auth.ErrInsufficientPermissions)

	// bootstrap the admin directly
	err = store.InTx(ctx, func(tx auth.Tx) error {
		for _, name := range []string{auth.PermPermissionsAssign, "post:/x"} {
			perm, err := tx.FindPermission(ctx, name)
			if err != nil {
				return err
			}
			if err := tx.Grant(ctx, admin.Holder(), perm.ID); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, svc.AssignPermission(ctx, admin, "post:/x", auth.Assignee{Username: "joe"}))
	require.NoError(t, svc.AssignPermission(ctx, admin, "post:/x", auth.Assignee{Username: "joe"}))

	joe, err := svc.Resolve(ctx, basic("joe"))
	require.NoError(t, err)
	require.NoError(t, joe.RequirePermission(ctx, "post:/x"))

	log, err := store.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, auth.ActionAssign, log[0].Action)
	assert.Equal(t, admin.Holder(), log[0].Assigner)
	assert.Equal(t, joe.Holder(), log[0].Assignee)

	err = svc.AssignPermission(ctx, admin, "post:/x", auth.Assignee{Username: "ghost"})
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSQLitePruneSessions(t *testing.T) {
	store, _ := newSQLiteService(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Users().Create(ctx, &auth.User{ID: "u1", Username: "joe", Email: "joe@example.com", PasswordHash: "x", CreatedAt: now}))
	require.NoError(t, store.Sessions().Create(ctx, &auth.Session{IDHash: []byte("old"), UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, store.Sessions().Create(ctx, &auth.Session{IDHash: []byte("new"), UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))

	n, err := store.Sessions().DeleteExpired(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = store.Sessions().FindByHash(ctx, []byte("old"))
	require.ErrorIs(t, err, auth.ErrNotFound)
	s, err := store.Sessions().FindByHash(ctx, []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
}
