package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/zahash/mona/internal/token"
)

// Scheme names a credential scheme.
type Scheme string

const (
	SchemeAccessToken Scheme = "access_token"
	SchemeBasic       Scheme = "basic"
	SchemeSession     Scheme = "session"
)

// SessionCookieName is the cookie that carries the session id.
const SessionCookieName = "session_id"

const (
	tokenPrefix = "Token "
	basicPrefix = "Basic "
)

// AccessTokenCredential is an access token presented as
// "Authorization: Token <base64url>".
type AccessTokenCredential struct {
	Token *token.Token
}

// BasicCredential is a username and password presented as
// "Authorization: Basic <base64(username:password)>".
type BasicCredential struct {
	Username string
	Password string
}

func (c BasicCredential) String() string {
	return "basic(" + c.Username + ":redacted)"
}

// SessionCredential is a session id presented in the session_id cookie.
type SessionCredential struct {
	ID *token.Token
}

// Each Extract function returns (nil, nil) when its scheme is absent from h
// and a *ExtractionError when it is present but malformed.

func ExtractAccessToken(h http.Header) (*AccessTokenCredential, error) {
	value, ok, err := authorizationValue(h, tokenPrefix, SchemeAccessToken, "auth.access-token.authorization-header.non-utf8")
	if err != nil || !ok {
		return nil, err
	}
	tok, err := token.Decode(value)
	if err != nil {
		return nil, &ExtractionError{
			Scheme: SchemeAccessToken,
			Code:   "auth.access-token.authorization-header.base64-decode",
			Reason: "cannot base64 decode :: Authorization: Token xxx",
		}
	}
	return &AccessTokenCredential{Token: tok}, nil
}

func ExtractBasic(h http.Header) (*BasicCredential, error) {
	value, ok, err := authorizationValue(h, basicPrefix, SchemeBasic, "auth.basic.authorization-header.non-utf8")
	if err != nil || !ok {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, &ExtractionError{
			Scheme: SchemeBasic,
			Code:   "auth.basic.authorization-header.base64-decode",
			Reason: "cannot base64 decode :: Authorization: Basic xxx",
		}
	}
	if !utf8.Valid(raw) {
		return nil, &ExtractionError{
			Scheme: SchemeBasic,
			Code:   "auth.basic.authorization-header.credentials.non-utf8",
			Reason: "Basic Credentials in Authorization header must be utf-8",
		}
	}
	username, password, found := strings.Cut(string(raw), ":")
	if !found {
		return nil, &ExtractionError{
			Scheme: SchemeBasic,
			Code:   "auth.basic.authorization-header.invalid-format",
			Reason: "invalid Authorization header format, expected `Basic <base64(username:password)>`",
		}
	}
	return &BasicCredential{Username: username, Password: password}, nil
}

// ExtractSession reads the session_id cookie. Pairs are matched on the raw
// Cookie header so a session_id holding bytes net/http would discard is
// reported as malformed rather than absent. Other unparsable pairs are
// skipped.
func ExtractSession(h http.Header) (*SessionCredential, error) {
	value, ok := sessionCookieValue(h)
	if !ok {
		return nil, nil
	}
	id, err := token.Decode(value)
	if err != nil {
		return nil, &ExtractionError{
			Scheme: SchemeSession,
			Code:   "auth.session.cookie.base64-decode",
			Reason: "cannot base64 decode :: Session Cookie",
		}
	}
	return &SessionCredential{ID: id}, nil
}

func sessionCookieValue(h http.Header) (string, bool) {
	for _, line := range h.Values("Cookie") {
		for _, part := range strings.Split(line, ";") {
			name, value, found := strings.Cut(strings.TrimSpace(part), "=")
			if !found || strings.TrimSpace(name) != SessionCookieName {
				continue
			}
			value = strings.TrimSpace(value)
			if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
				value = value[1 : len(value)-1]
			}
			return value, true
		}
	}
	return "", false
}

// authorizationValue returns the Authorization header value after prefix.
// ok is false when the header is missing or uses another scheme.
func authorizationValue(h http.Header, prefix string, scheme Scheme, code string) (string, bool, error) {
	values := h.Values("Authorization")
	if len(values) == 0 {
		return "", false, nil
	}
	header := values[0]
	if !utf8.ValidString(header) {
		return "", false, &ExtractionError{
			Scheme: scheme,
			Code:   code,
			Reason: "Authorization header value must be utf-8",
		}
	}
	value, ok := strings.CutPrefix(header, prefix)
	return value, ok, nil
}
