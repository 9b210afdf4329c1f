package auth_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/mail"
	"github.com/zahash/mona/internal/secrets"
	"github.com/zahash/mona/internal/store/memory"
)

const testPassword = "Secr3t!pass"

type outbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (o *outbox) Send(_ context.Context, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) messages() []mail.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]mail.Message(nil), o.sent...)
}

type fixture struct {
	svc    *auth.Service
	store  *memory.Store
	outbox *outbox
	now    time.Time
	audits []auth.AuditEntry
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:  memory.New(memory.WithLookupRecording()),
		outbox: &outbox{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.store.Permissions().Ensure(ctx, auth.BuiltinPermissions))
	require.NoError(t, f.store.Permissions().EnsureGroup(ctx, auth.GroupSignup, auth.SignupPermissions))

	keys, err := secrets.NewDir(t.TempDir())
	require.NoError(t, err)

	f.svc, err = auth.NewService(f.store,
		auth.WithClock(func() time.Time { return f.now }),
		auth.WithSecrets(keys),
		auth.WithMailer(f.outbox),
		auth.WithBaseURL("https://id.example.com/"),
		auth.WithAuditHook(func(_ context.Context, e auth.AuditEntry) {
			f.audits = append(f.audits, e)
		}),
	)
	require.NoError(t, err)
	return f
}

func (f *fixture) signup(t *testing.T, username string) *auth.User {
	t.Helper()
	u, err := f.svc.Signup(context.Background(), auth.SignupRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	return u
}

// basic resolves username/testPassword through the Basic scheme.
func (f *fixture) basic(t *testing.T, username string) auth.Principal {
	t.Helper()
	p, err := f.svc.Resolve(context.Background(), basicHeader(username, testPassword))
	require.NoError(t, err)
	return p
}

func basicHeader(username, password string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	return h
}

func tokenHeader(encoded string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token "+encoded)
	return h
}

func sessionHeader(encoded string) http.Header {
	h := http.Header{}
	h.Set("Cookie", auth.SessionCookieName+"="+encoded)
	return h
}

func permissionNames(perms []auth.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Name)
	}
	return out
}
