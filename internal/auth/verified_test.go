package auth_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/zahash/mona/internal/auth"
)

func TestVerifySessionBoundary(t *testing.T) {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := auth.Session{UserID: "u1", ExpiresAt: exp}

	v, err := auth.VerifySession(s, exp)
	if err != nil {
		t.Fatalf("session at its expiry instant must pass: %v", err)
	}
	if v.Value().UserID != "u1" || !v.VerifiedAt().Equal(exp) {
		t.Fatalf("unexpected verified value: %+v", v.Value())
	}
	if _, err := auth.VerifySession(s, exp.Add(time.Nanosecond)); !errors.Is(err, auth.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestVerifyAccessToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := auth.VerifyAccessToken(auth.AccessToken{}, now.AddDate(100, 0, 0)); err != nil {
		t.Fatalf("token without expiry must pass: %v", err)
	}
	exp := now.Add(time.Hour)
	tok := auth.AccessToken{ExpiresAt: &exp}
	if _, err := auth.VerifyAccessToken(tok, exp); err != nil {
		t.Fatalf("token at expiry must pass: %v", err)
	}
	if _, err := auth.VerifyAccessToken(tok, exp.Add(time.Second)); !errors.Is(err, auth.ErrAccessTokenExpired) {
		t.Fatalf("expected ErrAccessTokenExpired, got %v", err)
	}
}

func TestVerifyPasswordBcrypt(t *testing.T) {
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	u := auth.User{ID: "u1", PasswordHash: hash}
	ctx := context.Background()
	if _, err := auth.VerifyPassword(ctx, u, testPassword, time.Now()); err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}
	if _, err := auth.VerifyPassword(ctx, u, "wrong", time.Now()); !errors.Is(err, auth.ErrInvalidBasicCredentials) {
		t.Fatalf("expected ErrInvalidBasicCredentials, got %v", err)
	}
}

func TestVerifyPasswordArgon2id(t *testing.T) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		t.Fatal(err)
	}
	key := argon2.IDKey([]byte(testPassword), salt, 2, 19*1024, 1, 32)
	hash := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, 19*1024, 2, 1,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	u := auth.User{PasswordHash: hash}

	ctx := context.Background()
	if _, err := auth.VerifyPassword(ctx, u, testPassword, time.Now()); err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}
	if _, err := auth.VerifyPassword(ctx, u, testPassword+"x", time.Now()); !errors.Is(err, auth.ErrInvalidBasicCredentials) {
		t.Fatalf("expected ErrInvalidBasicCredentials, got %v", err)
	}

	u.PasswordHash = "$argon2id$v=19$garbage"
	_, err := auth.VerifyPassword(ctx, u, testPassword, time.Now())
	if err == nil || errors.Is(err, auth.ErrInvalidBasicCredentials) {
		t.Fatalf("corrupt hash must surface as an internal error, got %v", err)
	}
}

func TestVerifyPasswordCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := auth.VerifyPassword(ctx, auth.User{PasswordHash: "x"}, "y", time.Now()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
