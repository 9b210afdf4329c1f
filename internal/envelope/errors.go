package envelope

import (
	"errors"
	"fmt"
	"time"
)

const (
	partHeader    = "header"
	partPayload   = "payload"
	partSignature = "signature"
)

var (
	// ErrInvalidFormat reports text that is not exactly three dot-separated segments.
	ErrInvalidFormat = errors.New("envelope: invalid format")
	// ErrInvalidKeyLength reports an empty signing secret.
	ErrInvalidKeyLength = errors.New("envelope: invalid key length")
	// ErrMACMismatch reports a signature that does not cover the header and payload.
	ErrMACMismatch = errors.New("envelope: mac mismatch")

	// ErrExpired matches *ExpiredError.
	ErrExpired = errors.New("envelope: expired")
	// ErrNotYetValid matches *NotYetValidError.
	ErrNotYetValid = errors.New("envelope: not yet valid")
)

type Base64Error struct {
	Part string
	Err  error
}

func (e *Base64Error) Error() string {
	return fmt.Sprintf("envelope: base64 decode %s: %v", e.Part, e.Err)
}

func (e *Base64Error) Unwrap() error { return e.Err }

type NonUTF8Error struct {
	Part string
}

func (e *NonUTF8Error) Error() string {
	return fmt.Sprintf("envelope: %s is not utf-8", e.Part)
}

type SerializationError struct {
	Part string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("envelope: serialize %s: %v", e.Part, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// PayloadError wraps the error returned by the payload's UnmarshalBinary.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("envelope: decode payload: %v", e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

type ExpiredError struct {
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("envelope: expired at %s", e.ExpiredAt.UTC().Format(time.RFC3339))
}

func (e *ExpiredError) Is(target error) bool { return target == ErrExpired }

type NotYetValidError struct {
	ValidFrom time.Time
}

func (e *NotYetValidError) Error() string {
	return fmt.Sprintf("envelope: not valid before %s", e.ValidFrom.UTC().Format(time.RFC3339))
}

func (e *NotYetValidError) Is(target error) bool { return target == ErrNotYetValid }

// IsMalformed reports whether err came from Decode rejecting its input.
func IsMalformed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrMACMismatch) {
		return true
	}
	var (
		b64Err     *Base64Error
		utf8Err    *NonUTF8Error
		serErr     *SerializationError
		payloadErr *PayloadError
	)
	return errors.As(err, &b64Err) || errors.As(err, &utf8Err) ||
		errors.As(err, &serErr) || errors.As(err, &payloadErr)
}
