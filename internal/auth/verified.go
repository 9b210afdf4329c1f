package auth

import (
	"context"
	"errors"
	"time"
)

// Verified holds a record that passed its validity check at the time it was
// built. The only constructors are the Verify functions in this file.
type Verified[T any] struct {
	value T
	at    time.Time
}

// Value returns the verified record.
func (v Verified[T]) Value() T { return v.value }

// VerifiedAt reports when the check ran.
func (v Verified[T]) VerifiedAt() time.Time { return v.at }

// VerifySession rejects sessions whose expiry lies before now.
func VerifySession(s Session, now time.Time) (Verified[Session], error) {
	if now.After(s.ExpiresAt) {
		return Verified[Session]{}, ErrSessionExpired
	}
	return Verified[Session]{value: s, at: now}, nil
}

// VerifyAccessToken rejects tokens whose expiry lies before now. Tokens
// without an expiry always pass.
func VerifyAccessToken(t AccessToken, now time.Time) (Verified[AccessToken], error) {
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return Verified[AccessToken]{}, ErrAccessTokenExpired
	}
	return Verified[AccessToken]{value: t, at: now}, nil
}

// VerifyPassword checks password against the user's stored hash. A mismatch
// yields ErrInvalidBasicCredentials; hashing failures are returned wrapped.
func VerifyPassword(ctx context.Context, u User, password string, now time.Time) (Verified[User], error) {
	if err := ctx.Err(); err != nil {
		return Verified[User]{}, err
	}
	if err := comparePassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, errPasswordMismatch) {
			return Verified[User]{}, ErrInvalidBasicCredentials
		}
		return Verified[User]{}, err
	}
	return Verified[User]{value: u, at: now}, nil
}
