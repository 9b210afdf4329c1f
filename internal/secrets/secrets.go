// Package secrets stores the named signing keys used by the service. Every
// Get reads the backend; nothing is cached in process.
package secrets

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the length of keys generated by Reset.
const KeySize = 32

var (
	ErrNotFound    = errors.New("secrets: not found")
	ErrInvalidName = errors.New("secrets: invalid key name")
)

// Store is a named-key secret store. Reset replaces the key atomically:
// concurrent readers observe either the old or the new value.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Reset(ctx context.Context, name string) ([]byte, error)
}

// Wipe zeroes a key returned by a Store once the caller is done with it.
func Wipe(b []byte) {
	clear(b)
}

func validateName(name string) error {
	switch {
	case name == "", strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func newKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("secrets: read random: %w", err)
	}
	return key, nil
}
