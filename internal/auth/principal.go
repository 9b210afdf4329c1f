package auth

import (
	"context"
	"fmt"

	"github.com/zahash/mona/internal/obs"
)

// Principal is the verified identity behind a request. The set of
// implementations is closed: *SessionPrincipal, *AccessTokenPrincipal and
// *BasicPrincipal.
type Principal interface {
	Scheme() Scheme
	// UserID is the owning user for every variant.
	UserID() string
	// Holder is the subject whose grants apply. For access tokens that is
	// the token itself, not its owner.
	Holder() Subject

	Permissions(ctx context.Context) ([]Permission, error)
	HasPermission(ctx context.Context, permission string) (bool, error)
	RequirePermission(ctx context.Context, permission string) error

	sealed()
}

type SessionPrincipal struct {
	session Verified[Session]
	perms   PermissionStore
}

func (p *SessionPrincipal) Session() Session { return p.session.Value() }
func (p *SessionPrincipal) Scheme() Scheme   { return SchemeSession }
func (p *SessionPrincipal) UserID() string   { return p.session.Value().UserID }
func (p *SessionPrincipal) Holder() Subject {
	return Subject{Type: SubjectUser, ID: p.UserID()}
}

func (p *SessionPrincipal) Permissions(ctx context.Context) ([]Permission, error) {
	perms, err := p.perms.ForUser(ctx, p.UserID())
	return dedupePermissions(perms), err
}

func (p *SessionPrincipal) HasPermission(ctx context.Context, permission string) (bool, error) {
	return p.perms.UserHas(ctx, p.UserID(), permission)
}

func (p *SessionPrincipal) RequirePermission(ctx context.Context, permission string) error {
	return requirePermission(ctx, p, permission)
}

func (*SessionPrincipal) sealed() {}

type AccessTokenPrincipal struct {
	token Verified[AccessToken]
	perms PermissionStore
}

func (p *AccessTokenPrincipal) AccessToken() AccessToken { return p.token.Value() }
func (p *AccessTokenPrincipal) Scheme() Scheme           { return SchemeAccessToken }
func (p *AccessTokenPrincipal) UserID() string           { return p.token.Value().UserID }
func (p *AccessTokenPrincipal) Holder() Subject {
	return Subject{Type: SubjectAccessToken, ID: p.token.Value().ID}
}

func (p *AccessTokenPrincipal) Permissions(ctx context.Context) ([]Permission, error) {
	perms, err := p.perms.ForAccessToken(ctx, p.token.Value().ID)
	return dedupePermissions(perms), err
}

func (p *AccessTokenPrincipal) HasPermission(ctx context.Context, permission string) (bool, error) {
	return p.perms.AccessTokenHas(ctx, p.token.Value().ID, permission)
}

func (p *AccessTokenPrincipal) RequirePermission(ctx context.Context, permission string) error {
	return requirePermission(ctx, p, permission)
}

func (*AccessTokenPrincipal) sealed() {}

type BasicPrincipal struct {
	user  Verified[User]
	perms PermissionStore
}

func (p *BasicPrincipal) User() User      { return p.user.Value() }
func (p *BasicPrincipal) Scheme() Scheme  { return SchemeBasic }
func (p *BasicPrincipal) UserID() string  { return p.user.Value().ID }
func (p *BasicPrincipal) Holder() Subject { return Subject{Type: SubjectUser, ID: p.UserID()} }

func (p *BasicPrincipal) Permissions(ctx context.Context) ([]Permission, error) {
	perms, err := p.perms.ForUser(ctx, p.UserID())
	return dedupePermissions(perms), err
}

func (p *BasicPrincipal) HasPermission(ctx context.Context, permission string) (bool, error) {
	return p.perms.UserHas(ctx, p.UserID(), permission)
}

func (p *BasicPrincipal) RequirePermission(ctx context.Context, permission string) error {
	return requirePermission(ctx, p, permission)
}

func (*BasicPrincipal) sealed() {}

func requirePermission(ctx context.Context, p Principal, permission string) error {
	ok, err := p.HasPermission(ctx, permission)
	if err != nil {
		obs.ObservePermissionCheck("error")
		return fmt.Errorf("check permission %s: %w", permission, err)
	}
	if !ok {
		obs.ObservePermissionCheck("denied")
		return ErrInsufficientPermissions
	}
	obs.ObservePermissionCheck("granted")
	return nil
}

func dedupePermissions(perms []Permission) []Permission {
	if len(perms) == 0 {
		return perms
	}
	seen := make(map[string]struct{}, len(perms))
	out := perms[:0]
	for _, p := range perms {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	return out
}
