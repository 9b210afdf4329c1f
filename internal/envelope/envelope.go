// Package envelope implements a compact, time-boxed, HMAC-SHA256 signed
// container for arbitrary binary payloads:
//
//	b64(header) "." b64(payload) "." b64(mac)
//
// where header is the JSON object {"iat": <unix>, "exp": <unix>} and mac
// covers the first two segments exactly as transmitted. All segments use
// unpadded base64url.
package envelope

import (
	"encoding"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the validity window applied by New.
const DefaultTTL = time.Hour

var b64 = base64.RawURLEncoding.Strict()

// Header carries the validity window in unix seconds.
type Header struct {
	IssuedAt  int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`
}

// Envelope pairs a payload with its validity window. Holding an Envelope
// obtained from Decode proves authenticity, not freshness; call Payload.
type Envelope[T encoding.BinaryMarshaler] struct {
	header  Header
	payload T
}

// New wraps payload with iat = now and exp = now + DefaultTTL.
func New[T encoding.BinaryMarshaler](payload T) *Envelope[T] {
	return NewAt(payload, time.Now())
}

// NewAt is New with an explicit issue time.
func NewAt[T encoding.BinaryMarshaler](payload T, now time.Time) *Envelope[T] {
	return &Envelope[T]{
		header:  Header{IssuedAt: now.Unix(), ExpiresAt: now.Add(DefaultTTL).Unix()},
		payload: payload,
	}
}

// WithTTL moves exp to iat + ttl.
func (e *Envelope[T]) WithTTL(ttl time.Duration) *Envelope[T] {
	e.header.ExpiresAt = time.Unix(e.header.IssuedAt, 0).Add(ttl).Unix()
	return e
}

// IssuedAt reports the start of the validity window.
func (e *Envelope[T]) IssuedAt() time.Time { return time.Unix(e.header.IssuedAt, 0) }

// ExpiresAt reports the end of the validity window.
func (e *Envelope[T]) ExpiresAt() time.Time { return time.Unix(e.header.ExpiresAt, 0) }

// Encode serializes and signs the envelope.
func (e *Envelope[T]) Encode(secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrInvalidKeyLength
	}
	header, err := json.Marshal(e.header)
	if err != nil {
		return "", &SerializationError{Part: partHeader, Err: err}
	}
	payload, err := e.payload.MarshalBinary()
	if err != nil {
		return "", &SerializationError{Part: partPayload, Err: err}
	}

	signingString := b64.EncodeToString(header) + "." + b64.EncodeToString(payload)
	mac, err := jwt.SigningMethodHS256.Sign(signingString, secret)
	if err != nil {
		return "", err
	}
	return signingString + "." + b64.EncodeToString(mac), nil
}

// Payload returns the payload if the envelope is valid at the current time.
func (e *Envelope[T]) Payload() (T, error) {
	return e.PayloadAt(time.Now())
}

// PayloadAt returns the payload if now lies inside [iat, exp].
func (e *Envelope[T]) PayloadAt(now time.Time) (T, error) {
	var zero T
	unix := now.Unix()
	if unix > e.header.ExpiresAt {
		return zero, &ExpiredError{ExpiredAt: e.ExpiresAt()}
	}
	if unix < e.header.IssuedAt {
		return zero, &NotYetValidError{ValidFrom: e.IssuedAt()}
	}
	return e.payload, nil
}

// Decode verifies the MAC over text and only then parses the header and
// payload. Time is not checked here.
func Decode[T encoding.BinaryMarshaler, PT interface {
	*T
	encoding.BinaryUnmarshaler
}](text string, secret []byte) (*Envelope[T], error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKeyLength
	}
	parts := strings.Split(text, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidFormat
	}

	mac, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, &Base64Error{Part: partSignature, Err: err}
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], mac, secret); err != nil {
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrMACMismatch
		}
		return nil, err
	}

	rawHeader, err := b64.DecodeString(parts[0])
	if err != nil {
		return nil, &Base64Error{Part: partHeader, Err: err}
	}
	if !utf8.Valid(rawHeader) {
		return nil, &NonUTF8Error{Part: partHeader}
	}
	var header Header
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return nil, &SerializationError{Part: partHeader, Err: err}
	}

	rawPayload, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, &Base64Error{Part: partPayload, Err: err}
	}
	var payload T
	if err := PT(&payload).UnmarshalBinary(rawPayload); err != nil {
		return nil, &PayloadError{Err: err}
	}
	return &Envelope[T]{header: header, payload: payload}, nil
}
