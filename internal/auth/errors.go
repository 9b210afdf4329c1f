package auth

import (
	"errors"
	"fmt"

	"github.com/zahash/mona/internal/envelope"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")

	// ErrMalformedCredentials matches every *ExtractionError.
	ErrMalformedCredentials = errors.New("auth: malformed credentials")

	ErrNoCredentials           = errors.New("no credentials provided")
	ErrUnassociatedAccessToken = errors.New("access token not associated with any account")
	ErrUnassociatedSession     = errors.New("session id not associated with any user")
	ErrAccessTokenExpired      = errors.New("access token expired")
	ErrSessionExpired          = errors.New("session expired")
	ErrInvalidBasicCredentials = errors.New("invalid basic credentials")

	ErrInsufficientPermissions = errors.New("insufficient permissions")

	errPasswordMismatch = errors.New("auth: password mismatch")
)

// UsernameNotFoundError is returned when basic credentials name an unknown user.
type UsernameNotFoundError struct {
	Username string
}

func (e *UsernameNotFoundError) Error() string {
	return fmt.Sprintf("user with username %s not found", e.Username)
}

// ExtractionError reports a credential that was present but could not be
// parsed. Callers must stop resolution when they see one.
type ExtractionError struct {
	Scheme Scheme
	Code   string
	Reason string
}

func (e *ExtractionError) Error() string { return e.Reason }

func (e *ExtractionError) Is(target error) bool { return target == ErrMalformedCredentials }

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindMalformed
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindGone
)

// KindOf classifies err. Anything unrecognised is KindInternal.
func KindOf(err error) Kind {
	var notFound *UsernameNotFoundError
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrMalformedCredentials), errors.Is(err, ErrInvalidInput):
		return KindMalformed
	case errors.Is(err, envelope.ErrExpired):
		return KindGone
	case envelope.IsMalformed(err), errors.Is(err, envelope.ErrNotYetValid):
		return KindMalformed
	case errors.Is(err, ErrNoCredentials),
		errors.Is(err, ErrUnassociatedAccessToken),
		errors.Is(err, ErrUnassociatedSession),
		errors.Is(err, ErrAccessTokenExpired),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrInvalidBasicCredentials),
		errors.As(err, &notFound):
		return KindUnauthenticated
	case errors.Is(err, ErrInsufficientPermissions):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// Code returns a stable machine-readable identifier for err, or "" when
// there is none.
func Code(err error) string {
	var (
		extraction *ExtractionError
		notFound   *UsernameNotFoundError
	)
	switch {
	case errors.As(err, &extraction):
		return extraction.Code
	case errors.As(err, &notFound):
		return "auth.basic.username.not-found"
	case errors.Is(err, ErrNoCredentials):
		return "auth.no-credentials"
	case errors.Is(err, ErrUnassociatedAccessToken):
		return "auth.access-token.unassociated"
	case errors.Is(err, ErrUnassociatedSession):
		return "auth.session.id.unassociated"
	case errors.Is(err, ErrAccessTokenExpired):
		return "auth.access-token.expired"
	case errors.Is(err, ErrSessionExpired):
		return "auth.session.expired"
	case errors.Is(err, ErrInvalidBasicCredentials):
		return "auth.basic.invalid-credentials"
	case errors.Is(err, ErrInsufficientPermissions):
		return "auth.permission.insufficient"
	}
	return ""
}
