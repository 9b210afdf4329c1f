// Package token implements the fixed-size random secrets handed to clients as
// session ids and access tokens. Only the SHA-256 digest of a token is ever
// stored or queried.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// Size is the number of raw random bytes in a token.
const Size = 32

// ErrMalformed is returned for any text that does not decode to exactly Size bytes.
var ErrMalformed = errors.New("token: malformed")

var encoding = base64.RawURLEncoding.Strict()

// Token is an opaque Size-byte secret.
type Token struct {
	b [Size]byte
}

// Random draws a new token from the system CSPRNG.
func Random() (*Token, error) {
	var t Token
	if _, err := rand.Read(t.b[:]); err != nil {
		return nil, fmt.Errorf("token: read random: %w", err)
	}
	return &t, nil
}

// FromBytes copies raw into a token. raw must be exactly Size bytes.
func FromBytes(raw []byte) (*Token, error) {
	if len(raw) != Size {
		return nil, ErrMalformed
	}
	var t Token
	copy(t.b[:], raw)
	return &t, nil
}

// Decode parses the base64url (unpadded) text form. Bad alphabet and bad
// length are reported identically.
func Decode(text string) (*Token, error) {
	if encoding.DecodedLen(len(text)) != Size {
		return nil, ErrMalformed
	}
	var t Token
	n, err := encoding.Decode(t.b[:], []byte(text))
	if err != nil || n != Size {
		t.Zero()
		return nil, ErrMalformed
	}
	return &t, nil
}

// Encode returns the base64url (unpadded) text form.
func (t *Token) Encode() string {
	return encoding.EncodeToString(t.b[:])
}

// Hash returns the SHA-256 digest used as the persistence key.
func (t *Token) Hash() []byte {
	sum := sha256.Sum256(t.b[:])
	return sum[:]
}

// Bytes exposes the raw secret. The slice aliases the token.
func (t *Token) Bytes() []byte {
	return t.b[:]
}

// Zero overwrites the secret. The token is unusable afterwards.
func (t *Token) Zero() {
	if t == nil {
		return
	}
	clear(t.b[:])
}

// String never reveals the secret.
func (t *Token) String() string {
	return "token(redacted)"
}
