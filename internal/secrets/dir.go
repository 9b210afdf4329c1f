package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Dir keeps one file per key under a directory. When an age identity is
// configured the files are encrypted to it at rest.
type Dir struct {
	root     string
	identity *age.X25519Identity
}

type DirOption func(*Dir) error

// WithAgeIdentity encrypts key files to identity and decrypts them on read.
func WithAgeIdentity(identity *age.X25519Identity) DirOption {
	return func(d *Dir) error {
		if identity == nil {
			return errors.New("secrets: nil age identity")
		}
		d.identity = identity
		return nil
	}
}

// NewDir opens (creating if needed) the directory store at root.
func NewDir(root string, opts ...DirOption) (*Dir, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("secrets: directory is required")
	}
	d := &Dir{root: root}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("secrets: create %s: %w", root, err)
	}
	return d, nil
}

// LoadAgeIdentity reads the first X25519 identity from an age key file.
// Blank lines and # comments are skipped.
func LoadAgeIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read identity: %w", err)
	}
	defer Wipe(data)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("secrets: parse identity: %w", err)
		}
		return identity, nil
	}
	return nil, errors.New("secrets: identity file has no key")
}

func (d *Dir) Get(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("secrets: read %s: %w", name, err)
	}
	if d.identity == nil {
		return data, nil
	}
	defer Wipe(data)
	reader, err := age.Decrypt(bytes.NewReader(data), d.identity)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt %s: %w", name, err)
	}
	key, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt %s: %w", name, err)
	}
	return key, nil
}

// Reset writes a fresh key to a temporary file and renames it over the old
// one.
func (d *Dir) Reset(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := newKey()
	if err != nil {
		return nil, err
	}
	contents := key
	if d.identity != nil {
		var buf bytes.Buffer
		w, err := age.Encrypt(&buf, d.identity.Recipient())
		if err != nil {
			return nil, fmt.Errorf("secrets: encrypt %s: %w", name, err)
		}
		if _, err := w.Write(key); err != nil {
			return nil, fmt.Errorf("secrets: encrypt %s: %w", name, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("secrets: encrypt %s: %w", name, err)
		}
		contents = buf.Bytes()
	}
	if err := d.replace(name, contents); err != nil {
		Wipe(key)
		return nil, err
	}
	return key, nil
}

func (d *Dir) replace(name string, contents []byte) error {
	tmp, err := os.CreateTemp(d.root, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("secrets: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("secrets: chmod %s: %w", name, err)
	}
	if _, err := tmp.Write(contents); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("secrets: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("secrets: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("secrets: close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(d.root, name)); err != nil {
		return fmt.Errorf("secrets: replace %s: %w", name, err)
	}
	return nil
}
