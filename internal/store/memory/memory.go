// Package memory is an in-process auth.Store used by tests and dev mode.
// Transactions run against a copy of the state that replaces the original
// on commit.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/ids"
)

var _ auth.Store = (*Store)(nil)

type state struct {
	users       map[string]auth.User
	sessions    map[string]auth.Session
	tokens      map[string]auth.AccessToken
	permissions map[string]auth.Permission
	userGrants  map[string]map[string]struct{}
	tokenGrants map[string]map[string]struct{}
	groups      map[string]map[string]struct{}
	audit       []auth.AuditEntry
}

func newState() *state {
	return &state{
		users:       map[string]auth.User{},
		sessions:    map[string]auth.Session{},
		tokens:      map[string]auth.AccessToken{},
		permissions: map[string]auth.Permission{},
		userGrants:  map[string]map[string]struct{}{},
		tokenGrants: map[string]map[string]struct{}{},
		groups:      map[string]map[string]struct{}{},
	}
}

func cloneSet(in map[string]map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(in))
	for k, set := range in {
		c := make(map[string]struct{}, len(set))
		for id := range set {
			c[id] = struct{}{}
		}
		out[k] = c
	}
	return out
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.permissions {
		c.permissions[k] = v
	}
	c.userGrants = cloneSet(s.userGrants)
	c.tokenGrants = cloneSet(s.tokenGrants)
	c.groups = cloneSet(s.groups)
	c.audit = append([]auth.AuditEntry(nil), s.audit...)
	return c
}

// Store implements auth.Store in memory.
type Store struct {
	mu      sync.Mutex
	st      *state
	record  bool
	lookups [][]byte
}

// Option configures a Store.
type Option func(*Store)

// WithLookupRecording keeps every key passed to a FindByHash call so tests
// can inspect it through Lookups. The record is unbounded.
func WithLookupRecording() Option {
	return func(s *Store) { s.record = true }
}

func New(opts ...Option) *Store {
	s := &Store{st: newState()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Users() auth.UserStore               { return users{s} }
func (s *Store) Sessions() auth.SessionStore         { return sessions{s} }
func (s *Store) AccessTokens() auth.AccessTokenStore { return tokens{s} }
func (s *Store) Permissions() auth.PermissionStore   { return permissions{s} }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) InTx(ctx context.Context, fn func(tx auth.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) recordLookup(key []byte) {
	if s.record {
		s.lookups = append(s.lookups, bytes.Clone(key))
	}
}

// Lookups returns every key passed to a FindByHash call, in call order.
// It is empty unless the store was built WithLookupRecording.
func (s *Store) Lookups() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.lookups))
	copy(out, s.lookups)
	return out
}

// Audit returns the audit log, oldest first.
func (s *Store) Audit() []auth.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.AuditEntry(nil), s.st.audit...)
}

// Grant attaches permission directly to subject, bypassing authorization.
// It creates the catalog entry when missing. Used for bootstrapping.
func (s *Store) Grant(subject auth.Subject, permission string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.permissionByName(permission)
	if !ok {
		p = auth.Permission{ID: ids.New(), Name: permission}
		s.st.permissions[p.ID] = p
	}
	return s.st.grant(subject, p.ID)
}

func (s *Store) view(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (st *state) permissionByName(name string) (auth.Permission, bool) {
	for _, p := range st.permissions {
		if p.Name == name {
			return p, true
		}
	}
	return auth.Permission{}, false
}

func (st *state) userByUsername(username string) (auth.User, bool) {
	for _, u := range st.users {
		if u.Username == username {
			return u, true
		}
	}
	return auth.User{}, false
}

func (st *state) grantSet(t auth.SubjectType) (map[string]map[string]struct{}, error) {
	switch t {
	case auth.SubjectUser:
		return st.userGrants, nil
	case auth.SubjectAccessToken:
		return st.tokenGrants, nil
	}
	return nil, fmt.Errorf("%w: subject type %q", auth.ErrInvalidInput, t)
}

func (st *state) grant(subject auth.Subject, permissionID string) error {
	set, err := st.grantSet(subject.Type)
	if err != nil {
		return err
	}
	switch subject.Type {
	case auth.SubjectUser:
		if _, ok := st.users[subject.ID]; !ok {
			return auth.ErrNotFound
		}
	case auth.SubjectAccessToken:
		if _, ok := st.tokens[subject.ID]; !ok {
			return auth.ErrNotFound
		}
	}
	if _, ok := st.permissions[permissionID]; !ok {
		return auth.ErrNotFound
	}
	if set[subject.ID] == nil {
		set[subject.ID] = map[string]struct{}{}
	}
	set[subject.ID][permissionID] = struct{}{}
	return nil
}

func (st *state) has(subject auth.Subject, permission string) (bool, error) {
	set, err := st.grantSet(subject.Type)
	if err != nil {
		return false, err
	}
	p, ok := st.permissionByName(permission)
	if !ok {
		return false, nil
	}
	_, ok = set[subject.ID][p.ID]
	return ok, nil
}

func (st *state) list(subject auth.Subject) ([]auth.Permission, error) {
	set, err := st.grantSet(subject.Type)
	if err != nil {
		return nil, err
	}
	var out []auth.Permission
	for id := range set[subject.ID] {
		out = append(out, st.permissions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (st *state) createUser(u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	for _, existing := range st.users {
		if existing.Username == u.Username || existing.Email == u.Email || existing.ID == u.ID {
			return auth.ErrConflict
		}
	}
	st.users[u.ID] = *u
	return nil
}

func (st *state) tokenByName(userID, name string) (auth.AccessToken, bool) {
	for _, t := range st.tokens {
		if t.UserID == userID && t.Name == name {
			return t, true
		}
	}
	return auth.AccessToken{}, false
}

type users struct{ s *Store }

func (u users) Create(_ context.Context, user *auth.User) error {
	return u.s.view(func(st *state) error { return st.createUser(user) })
}

func (u users) Find(_ context.Context, id string) (*auth.User, error) {
	var out *auth.User
	err := u.s.view(func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return auth.ErrNotFound
		}
		out = &user
		return nil
	})
	return out, err
}

func (u users) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	var out *auth.User
	err := u.s.view(func(st *state) error {
		user, ok := st.userByUsername(username)
		if !ok {
			return auth.ErrNotFound
		}
		out = &user
		return nil
	})
	return out, err
}

func (u users) UsernameExists(_ context.Context, username string) (bool, error) {
	var ok bool
	_ = u.s.view(func(st *state) error {
		_, ok = st.userByUsername(username)
		return nil
	})
	return ok, nil
}

func (u users) EmailExists(_ context.Context, email string) (bool, error) {
	var found bool
	_ = u.s.view(func(st *state) error {
		for _, user := range st.users {
			if user.Email == email {
				found = true
			}
		}
		return nil
	})
	return found, nil
}

func (u users) MarkEmailVerified(_ context.Context, email string) error {
	return u.s.view(func(st *state) error {
		for id, user := range st.users {
			if user.Email == email {
				user.EmailVerified = true
				st.users[id] = user
				return nil
			}
		}
		return auth.ErrNotFound
	})
}

type sessions struct{ s *Store }

func (ss sessions) Create(_ context.Context, sess *auth.Session) error {
	return ss.s.view(func(st *state) error {
		key := string(sess.IDHash)
		if _, ok := st.sessions[key]; ok {
			return auth.ErrConflict
		}
		if _, ok := st.users[sess.UserID]; !ok {
			return auth.ErrNotFound
		}
		c := *sess
		c.IDHash = bytes.Clone(sess.IDHash)
		st.sessions[key] = c
		return nil
	})
}

func (ss sessions) FindByHash(_ context.Context, idHash []byte) (*auth.Session, error) {
	var out *auth.Session
	err := ss.s.view(func(st *state) error {
		ss.s.recordLookup(idHash)
		sess, ok := st.sessions[string(idHash)]
		if !ok {
			return auth.ErrNotFound
		}
		out = &sess
		return nil
	})
	return out, err
}

func (ss sessions) Delete(_ context.Context, idHash []byte) error {
	return ss.s.view(func(st *state) error {
		if _, ok := st.sessions[string(idHash)]; !ok {
			return auth.ErrNotFound
		}
		delete(st.sessions, string(idHash))
		return nil
	})
}

func (ss sessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := ss.s.view(func(st *state) error {
		for k, sess := range st.sessions {
			if sess.ExpiresAt.Before(now) {
				delete(st.sessions, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

type tokens struct{ s *Store }

func (ts tokens) Create(_ context.Context, t *auth.AccessToken) error {
	return ts.s.view(func(st *state) error {
		if t.ID == "" {
			t.ID = ids.New()
		}
		if _, ok := st.users[t.UserID]; !ok {
			return auth.ErrNotFound
		}
		if _, ok := st.tokenByName(t.UserID, t.Name); ok {
			return auth.ErrConflict
		}
		for _, existing := range st.tokens {
			if bytes.Equal(existing.Hash, t.Hash) {
				return auth.ErrConflict
			}
		}
		c := *t
		c.Hash = bytes.Clone(t.Hash)
		st.tokens[c.ID] = c
		return nil
	})
}

func (ts tokens) FindByHash(_ context.Context, hash []byte) (*auth.AccessToken, error) {
	var out *auth.AccessToken
	err := ts.s.view(func(st *state) error {
		ts.s.recordLookup(hash)
		for _, t := range st.tokens {
			if bytes.Equal(t.Hash, hash) {
				found := t
				out = &found
				return nil
			}
		}
		return auth.ErrNotFound
	})
	return out, err
}

func (ts tokens) FindByName(_ context.Context, userID, name string) (*auth.AccessToken, error) {
	var out *auth.AccessToken
	err := ts.s.view(func(st *state) error {
		t, ok := st.tokenByName(userID, name)
		if !ok {
			return auth.ErrNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

type permissions struct{ s *Store }

func (ps permissions) Ensure(_ context.Context, perms []auth.Permission) error {
	return ps.s.view(func(st *state) error {
		for _, p := range perms {
			if _, ok := st.permissionByName(p.Name); ok {
				continue
			}
			if p.ID == "" {
				p.ID = ids.New()
			}
			st.permissions[p.ID] = p
		}
		return nil
	})
}

func (ps permissions) EnsureGroup(_ context.Context, group string, names []string) error {
	return ps.s.view(func(st *state) error {
		if st.groups[group] == nil {
			st.groups[group] = map[string]struct{}{}
		}
		for _, name := range names {
			if p, ok := st.permissionByName(name); ok {
				st.groups[group][p.ID] = struct{}{}
			}
		}
		return nil
	})
}

func (ps permissions) ForUser(_ context.Context, userID string) ([]auth.Permission, error) {
	var out []auth.Permission
	err := ps.s.view(func(st *state) (err error) {
		out, err = st.list(auth.Subject{Type: auth.SubjectUser, ID: userID})
		return err
	})
	return out, err
}

func (ps permissions) ForAccessToken(_ context.Context, tokenID string) ([]auth.Permission, error) {
	var out []auth.Permission
	err := ps.s.view(func(st *state) (err error) {
		out, err = st.list(auth.Subject{Type: auth.SubjectAccessToken, ID: tokenID})
		return err
	})
	return out, err
}

func (ps permissions) UserHas(_ context.Context, userID, permission string) (bool, error) {
	var ok bool
	err := ps.s.view(func(st *state) (err error) {
		ok, err = st.has(auth.Subject{Type: auth.SubjectUser, ID: userID}, permission)
		return err
	})
	return ok, err
}

func (ps permissions) AccessTokenHas(_ context.Context, tokenID, permission string) (bool, error) {
	var ok bool
	err := ps.s.view(func(st *state) (err error) {
		ok, err = st.has(auth.Subject{Type: auth.SubjectAccessToken, ID: tokenID}, permission)
		return err
	})
	return ok, err
}

type tx struct{ st *state }

func (t *tx) SubjectHas(_ context.Context, subject auth.Subject, permission string) (bool, error) {
	return t.st.has(subject, permission)
}

func (t *tx) FindUserByUsername(_ context.Context, username string) (*auth.User, error) {
	u, ok := t.st.userByUsername(username)
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

func (t *tx) FindAccessTokenByName(_ context.Context, userID, name string) (*auth.AccessToken, error) {
	tok, ok := t.st.tokenByName(userID, name)
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &tok, nil
}

func (t *tx) FindPermission(_ context.Context, name string) (*auth.Permission, error) {
	p, ok := t.st.permissionByName(name)
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &p, nil
}

func (t *tx) Grant(_ context.Context, subject auth.Subject, permissionID string) error {
	return t.st.grant(subject, permissionID)
}

func (t *tx) Revoke(_ context.Context, subject auth.Subject, permissionID string) error {
	set, err := t.st.grantSet(subject.Type)
	if err != nil {
		return err
	}
	delete(set[subject.ID], permissionID)
	return nil
}

func (t *tx) AppendAudit(_ context.Context, e *auth.AuditEntry) error {
	t.st.audit = append(t.st.audit, *e)
	return nil
}

func (t *tx) CreateUser(_ context.Context, u *auth.User) error {
	return t.st.createUser(u)
}

func (t *tx) GrantGroup(_ context.Context, userID, group string) error {
	for permID := range t.st.groups[group] {
		if err := t.st.grant(auth.Subject{Type: auth.SubjectUser, ID: userID}, permID); err != nil {
			return err
		}
	}
	return nil
}
