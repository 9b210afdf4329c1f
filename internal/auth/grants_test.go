package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahash/mona/internal/auth"
)

const custom = "post:/x"

func grantsFixture(t *testing.T) (*fixture, *auth.User, *auth.User) {
	t.Helper()
	f := newFixture(t)
	require.NoError(t, f.store.Permissions().Ensure(context.Background(), []auth.Permission{{Name: custom}}))
	joe := f.signup(t, "joe")
	admin := f.signup(t, "admin")
	return f, joe, admin
}

func (f *fixture) grant(t *testing.T, userID, permission string) {
	t.Helper()
	require.NoError(t, f.store.Grant(auth.Subject{Type: auth.SubjectUser, ID: userID}, permission))
}

func TestAssignRequiresAssignPermission(t *testing.T) {
	f, _, admin := grantsFixture(t)
	ctx := context.Background()
	f.grant(t, admin.ID, custom)

	err := f.svc.AssignPermission(ctx, f.basic(t, "admin"), custom, auth.Assignee{Username: "joe"})
	require.ErrorIs(t, err, auth.ErrInsufficientPermissions)
	assert.Equal(t, auth.KindForbidden, auth.KindOf(err))
	assert.Empty(t, f.store.Audit())
}

func TestAssignCannotEscalate(t *testing.T) {
	f, _, admin := grantsFixture(t)
	ctx := context.Background()
	f.grant(t, admin.ID, auth.PermPermissionsAssign)

	err := f.svc.AssignPermission(ctx, f.basic(t, "admin"), custom, auth.Assignee{Username: "joe"})
	require.ErrorIs(t, err, auth.ErrInsufficientPermissions)
	assert.Empty(t, f.store.Audit())
	assert.Empty(t, f.audits)

	ok, err := f.basic(t, "joe").HasPermission(ctx, custom)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssignAndRevoke(t *testing.T) {
	f, joe, admin := grantsFixture(t)
	ctx := context.Background()
	f.grant(t, admin.ID, auth.PermPermissionsAssign)
	f.grant(t, admin.ID, custom)

	// joe is refused before the grant
	require.ErrorIs(t, f.basic(t, "joe").RequirePermission(ctx, custom), auth.ErrInsufficientPermissions)

	adminP := f.basic(t, "admin")
	require.NoError(t, f.svc.AssignPermission(ctx, adminP, custom, auth.Assignee{Username: "joe"}))
	require.NoError(t, f.basic(t, "joe").RequirePermission(ctx, custom))

	log := f.store.Audit()
	require.Len(t, log, 1)
	assert.Equal(t, auth.ActionAssign, log[0].Action)
	assert.Equal(t, auth.Subject{Type: auth.SubjectUser, ID: admin.ID}, log[0].Assigner)
	assert.Equal(t, auth.Subject{Type: auth.SubjectUser, ID: joe.ID}, log[0].Assignee)
	assert.Equal(t, f.now, log[0].CreatedAt)
	require.Len(t, f.audits, 1)
	assert.Equal(t, log[0], f.audits[0])

	// revoking needs delete:/permissions on top of the permission itself
	err := f.svc.RevokePermission(ctx, adminP, custom, auth.Assignee{Username: "joe"})
	require.ErrorIs(t, err, auth.ErrInsufficientPermissions)
	assert.Len(t, f.store.Audit(), 1)

	f.grant(t, admin.ID, auth.PermPermissionsRevoke)
	require.NoError(t, f.svc.RevokePermission(ctx, adminP, custom, auth.Assignee{Username: "joe"}))
	require.ErrorIs(t, f.basic(t, "joe").RequirePermission(ctx, custom), auth.ErrInsufficientPermissions)

	log = f.store.Audit()
	require.Len(t, log, 2)
	assert.Equal(t, auth.ActionRevoke, log[1].Action)
}

func TestAssignIsIdempotentButAudited(t *testing.T) {
	f, _, admin := grantsFixture(t)
	ctx := context.Background()
	f.grant(t, admin.ID, auth.PermPermissionsAssign)
	f.grant(t, admin.ID, custom)
	adminP := f.basic(t, "admin")

	for i := 0; i < 2; i++ {
		require.NoError(t, f.svc.AssignPermission(ctx, adminP, custom, auth.Assignee{Username: "joe"}))
	}
	perms, err := f.basic(t, "joe").Permissions(ctx)
	require.NoError(t, err)
	assert.Contains(t, permissionNames(perms), custom)
	assert.Len(t, f.store.Audit(), 2)
}

func TestAssignToAccessToken(t *testing.T) {
	f, _, admin := grantsFixture(t)
	ctx := context.Background()
	f.grant(t, admin.ID, auth.PermPermissionsAssign)
	f.grant(t, admin.ID, custom)

	tok, rec, err := f.svc.GenerateAccessToken(ctx, f.basic(t, "joe"), "ci", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.AssignPermission(ctx, f.basic(t, "admin"), custom,
		auth.Assignee{Username: "joe", TokenName: "ci"}))

	tokenP, err := f.svc.Resolve(ctx, tokenHeader(tok.Encode()))
	require.NoError(t, err)
	require.NoError(t, tokenP.RequirePermission(ctx, custom))

	// the owning user is unaffected
	ok, err := f.basic(t, "joe").HasPermission(ctx, custom)
	require.NoError(t, err)
	assert.False(t, ok)

	log := f.store.Audit()
	require.Len(t, log, 1)
	assert.Equal(t, auth.Subject{Type: auth.SubjectAccessToken, ID: rec.ID}, log[0].Assignee)

	perms, err := f.svc.AccessTokenPermissions(ctx, f.basic(t, "joe"), "ci")
	require.NoError(t, err)
	assert.Equal(t, []string{custom}, permissionNames(perms))
}

func TestAccessTokenActsWithItsOwnGrants(t *testing.T) {
	f, joe, _ := grantsFixture(t)
	ctx := context.Background()
	f.grant(t, joe.ID, auth.PermPermissionsAssign)
	f.grant(t, joe.ID, custom)
	f.signup(t, "ann")

	tok, _, err := f.svc.GenerateAccessToken(ctx, f.basic(t, "joe"), "ci", nil)
	require.NoError(t, err)
	tokenP, err := f.svc.Resolve(ctx, tokenHeader(tok.Encode()))
	require.NoError(t, err)

	err = f.svc.AssignPermission(ctx, tokenP, custom, auth.Assignee{Username: "ann"})
	require.ErrorIs(t, err, auth.ErrInsufficientPermissions)
	assert.Empty(t, f.store.Audit())
}

func TestAssignUnknownTargets(t *testing.T) {
	f, _, admin := grantsFixture(t)
	ctx := context.Background()
	f.grant(t, admin.ID, auth.PermPermissionsAssign)
	f.grant(t, admin.ID, custom)
	adminP := f.basic(t, "admin")

	err := f.svc.AssignPermission(ctx, adminP, custom, auth.Assignee{Username: "ghost"})
	require.ErrorIs(t, err, auth.ErrNotFound)
	assert.Equal(t, auth.KindNotFound, auth.KindOf(err))

	err = f.svc.AssignPermission(ctx, adminP, custom, auth.Assignee{Username: "joe", TokenName: "nope"})
	require.ErrorIs(t, err, auth.ErrNotFound)

	err = f.svc.AssignPermission(ctx, adminP, "", auth.Assignee{Username: "joe"})
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	err = f.svc.AssignPermission(ctx, nil, custom, auth.Assignee{Username: "joe"})
	require.ErrorIs(t, err, auth.ErrNoCredentials)
	assert.Empty(t, f.store.Audit())
}
