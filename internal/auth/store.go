package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Secrets are only ever passed in as SHA-256 digests.
type Store interface {
	Users() UserStore
	Sessions() SessionStore
	AccessTokens() AccessTokenStore
	Permissions() PermissionStore

	// InTx runs fn inside a single transaction. fn's error rolls it back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
}

// UserStore manages users.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	MarkEmailVerified(ctx context.Context, email string) error
}

// SessionStore manages login sessions keyed by id digest.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByHash(ctx context.Context, idHash []byte) (*Session, error)
	Delete(ctx context.Context, idHash []byte) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// AccessTokenStore manages access tokens keyed by token digest.
type AccessTokenStore interface {
	Create(ctx context.Context, t *AccessToken) error
	FindByHash(ctx context.Context, hash []byte) (*AccessToken, error)
	FindByName(ctx context.Context, userID, name string) (*AccessToken, error)
}

// PermissionStore answers ownership questions and seeds the catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	EnsureGroup(ctx context.Context, group string, permissions []string) error

	ForUser(ctx context.Context, userID string) ([]Permission, error)
	ForAccessToken(ctx context.Context, tokenID string) ([]Permission, error)
	UserHas(ctx context.Context, userID, permission string) (bool, error)
	AccessTokenHas(ctx context.Context, tokenID, permission string) (bool, error)
}

// Tx is the transactional view used by multi-step writes.
type Tx interface {
	SubjectHas(ctx context.Context, subject Subject, permission string) (bool, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindAccessTokenByName(ctx context.Context, userID, name string) (*AccessToken, error)
	FindPermission(ctx context.Context, name string) (*Permission, error)

	Grant(ctx context.Context, subject Subject, permissionID string) error
	Revoke(ctx context.Context, subject Subject, permissionID string) error
	AppendAudit(ctx context.Context, entry *AuditEntry) error

	CreateUser(ctx context.Context, u *User) error
	GrantGroup(ctx context.Context, userID, group string) error
}
