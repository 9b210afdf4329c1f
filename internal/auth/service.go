package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zahash/mona/internal/envelope"
	"github.com/zahash/mona/internal/ids"
	"github.com/zahash/mona/internal/mail"
	"github.com/zahash/mona/internal/obs"
	"github.com/zahash/mona/internal/secrets"
	"github.com/zahash/mona/internal/token"
)

const (
	DefaultSessionTTL      = 30 * 24 * time.Hour
	DefaultVerificationTTL = time.Hour

	// KeyHMAC signs email verification envelopes.
	KeyHMAC = "hmac"

	maxTokenNameLength = 64
)

// Service resolves principals and runs the account, token and permission
// operations on top of a Store.
type Service struct {
	store   Store
	secrets secrets.Store
	mailer  mail.Sender
	now     func() time.Time

	sessionTTL      time.Duration
	verificationTTL time.Duration
	baseURL         string
	rotatable       map[string]struct{}
	onAudit         func(context.Context, AuditEntry)
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return errors.New("auth: clock is nil")
		}
		s.now = now
		return nil
	}
}

// WithSecrets sets the key store used for key rotation and email verification.
func WithSecrets(store secrets.Store) ServiceOption {
	return func(s *Service) error {
		s.secrets = store
		return nil
	}
}

func WithMailer(sender mail.Sender) ServiceOption {
	return func(s *Service) error {
		s.mailer = sender
		return nil
	}
}

func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: session ttl must be positive", ErrInvalidInput)
		}
		s.sessionTTL = ttl
		return nil
	}
}

func WithVerificationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: verification ttl must be positive", ErrInvalidInput)
		}
		s.verificationTTL = ttl
		return nil
	}
}

// WithBaseURL sets the public origin used in emailed links.
func WithBaseURL(base string) ServiceOption {
	return func(s *Service) error {
		s.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
		return nil
	}
}

// WithRotatableKeys limits RotateKey to the named keys.
func WithRotatableKeys(names ...string) ServiceOption {
	return func(s *Service) error {
		s.rotatable = make(map[string]struct{}, len(names))
		for _, n := range names {
			s.rotatable[n] = struct{}{}
		}
		return nil
	}
}

// WithAuditHook is called after every committed permission change.
func WithAuditHook(fn func(context.Context, AuditEntry)) ServiceOption {
	return func(s *Service) error {
		s.onAudit = fn
		return nil
	}
}

func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is nil")
	}
	s := &Service{
		store:           store,
		now:             time.Now,
		sessionTTL:      DefaultSessionTTL,
		verificationTTL: DefaultVerificationTTL,
		rotatable:       map[string]struct{}{KeyHMAC: {}},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }

// Ready reports whether the backing store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Resolve turns request headers into a Principal. Schemes are tried in the
// order access token, basic, session; the first one present is the only one
// used. A present but malformed or rejected credential never falls through
// to the next scheme.
func (s *Service) Resolve(ctx context.Context, h http.Header) (Principal, error) {
	scheme, p, err := s.resolve(ctx, h)
	name := string(scheme)
	if name == "" {
		name = "none"
	}
	switch KindOf(err) {
	case KindInternal:
		if err == nil {
			obs.ObservePrincipal(name, "ok")
		} else {
			obs.ObservePrincipal(name, "error")
		}
	case KindMalformed:
		obs.ObservePrincipal(name, "malformed")
	default:
		obs.ObservePrincipal(name, "rejected")
	}
	return p, err
}

func (s *Service) resolve(ctx context.Context, h http.Header) (Scheme, Principal, error) {
	at, err := ExtractAccessToken(h)
	if err != nil {
		return SchemeAccessToken, nil, err
	}
	if at != nil {
		defer at.Token.Zero()
		p, err := s.resolveAccessToken(ctx, at)
		return SchemeAccessToken, p, err
	}

	basic, err := ExtractBasic(h)
	if err != nil {
		return SchemeBasic, nil, err
	}
	if basic != nil {
		p, err := s.resolveBasic(ctx, basic)
		return SchemeBasic, p, err
	}

	sess, err := ExtractSession(h)
	if err != nil {
		return SchemeSession, nil, err
	}
	if sess != nil {
		defer sess.ID.Zero()
		p, err := s.resolveSession(ctx, sess)
		return SchemeSession, p, err
	}
	return "", nil, ErrNoCredentials
}

func (s *Service) resolveAccessToken(ctx context.Context, cred *AccessTokenCredential) (Principal, error) {
	rec, err := s.store.AccessTokens().FindByHash(ctx, cred.Token.Hash())
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnassociatedAccessToken
	}
	if err != nil {
		return nil, fmt.Errorf("lookup access token: %w", err)
	}
	verified, err := VerifyAccessToken(*rec, s.now())
	if err != nil {
		return nil, err
	}
	return &AccessTokenPrincipal{token: verified, perms: s.store.Permissions()}, nil
}

func (s *Service) resolveSession(ctx context.Context, cred *SessionCredential) (Principal, error) {
	rec, err := s.store.Sessions().FindByHash(ctx, cred.ID.Hash())
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnassociatedSession
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	verified, err := VerifySession(*rec, s.now())
	if err != nil {
		return nil, err
	}
	return &SessionPrincipal{session: verified, perms: s.store.Permissions()}, nil
}

func (s *Service) resolveBasic(ctx context.Context, cred *BasicCredential) (Principal, error) {
	verified, err := s.verifyUser(ctx, cred.Username, cred.Password)
	if err != nil {
		return nil, err
	}
	return &BasicPrincipal{user: verified, perms: s.store.Permissions()}, nil
}

func (s *Service) verifyUser(ctx context.Context, username, password string) (Verified[User], error) {
	u, err := s.store.Users().FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return Verified[User]{}, &UsernameNotFoundError{Username: username}
	}
	if err != nil {
		return Verified[User]{}, fmt.Errorf("lookup user: %w", err)
	}
	verified, err := VerifyPassword(ctx, *u, password, s.now())
	if err != nil && !errors.Is(err, ErrInvalidBasicCredentials) {
		return Verified[User]{}, fmt.Errorf("verify password: %w", err)
	}
	return verified, err
}

// SignupRequest carries the fields of a new account.
type SignupRequest struct {
	Username string
	Email    string
	Password string
}

// Signup creates the user and applies the signup permission group in one
// transaction.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           ids.New(),
		Username:     req.Username,
		Email:        email.String(),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		return tx.GrantGroup(ctx, u.ID, GroupSignup)
	})
	if err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	return u, nil
}

// Login checks the password and opens a session. The returned token is the
// only copy of the raw session id; callers set it as the cookie and Zero it.
func (s *Service) Login(ctx context.Context, username, password, userAgent string) (*token.Token, *Session, error) {
	verified, err := s.verifyUser(ctx, username, password)
	if err != nil {
		return nil, nil, err
	}
	id, err := token.Random()
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	sess := &Session{
		IDHash:    id.Hash(),
		UserID:    verified.Value().ID,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.store.Sessions().Create(ctx, sess); err != nil {
		id.Zero()
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return id, sess, nil
}

// Logout deletes the session named by the request cookie, if any.
func (s *Service) Logout(ctx context.Context, h http.Header) error {
	cred, err := ExtractSession(h)
	if err != nil || cred == nil {
		return err
	}
	defer cred.ID.Zero()
	if err := s.store.Sessions().Delete(ctx, cred.ID.Hash()); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PruneSessions removes sessions that expired before now.
func (s *Service) PruneSessions(ctx context.Context) (int64, error) {
	return s.store.Sessions().DeleteExpired(ctx, s.now())
}

// GenerateAccessToken creates a named token owned by p's user. ttl nil means
// the token never expires.
func (s *Service) GenerateAccessToken(ctx context.Context, p Principal, name string, ttl *time.Duration) (*token.Token, *AccessToken, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxTokenNameLength {
		return nil, nil, fmt.Errorf("%w: token name must be 1-%d characters", ErrInvalidInput, maxTokenNameLength)
	}
	if ttl != nil && *ttl <= 0 {
		return nil, nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	tok, err := token.Random()
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	rec := &AccessToken{
		ID:        ids.New(),
		Name:      name,
		Hash:      tok.Hash(),
		UserID:    p.UserID(),
		CreatedAt: now,
	}
	if ttl != nil {
		exp := now.Add(*ttl)
		rec.ExpiresAt = &exp
	}
	if err := s.store.AccessTokens().Create(ctx, rec); err != nil {
		tok.Zero()
		return nil, nil, fmt.Errorf("create access token: %w", err)
	}
	return tok, rec, nil
}

// AccessTokenPermissions lists the grants of one of p's own tokens.
func (s *Service) AccessTokenPermissions(ctx context.Context, p Principal, tokenName string) ([]Permission, error) {
	rec, err := s.store.AccessTokens().FindByName(ctx, p.UserID(), tokenName)
	if err != nil {
		return nil, fmt.Errorf("access token %q: %w", tokenName, err)
	}
	perms, err := s.store.Permissions().ForAccessToken(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("access token permissions: %w", err)
	}
	return dedupePermissions(perms), nil
}

// RotateKey replaces the named signing key. Envelopes signed with the old
// key stop verifying immediately.
func (s *Service) RotateKey(ctx context.Context, name string) error {
	if s.secrets == nil {
		return errors.New("auth: secret store not configured")
	}
	if _, ok := s.rotatable[name]; !ok {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidInput, name)
	}
	key, err := s.secrets.Reset(ctx, name)
	if err != nil {
		return fmt.Errorf("rotate key %s: %w", name, err)
	}
	secrets.Wipe(key)
	obs.ObserveKeyRotation(name)
	return nil
}

func (s *Service) signingKey(ctx context.Context) ([]byte, error) {
	if s.secrets == nil {
		return nil, errors.New("auth: secret store not configured")
	}
	key, err := s.secrets.Get(ctx, KeyHMAC)
	if errors.Is(err, secrets.ErrNotFound) {
		key, err = s.secrets.Reset(ctx, KeyHMAC)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s key: %w", KeyHMAC, err)
	}
	return key, nil
}

// InitiateEmailVerification mails a signed, time-boxed verification link to
// email. Unknown addresses are accepted silently.
func (s *Service) InitiateEmailVerification(ctx context.Context, email string) error {
	addr, err := ValidateEmail(email)
	if err != nil {
		return err
	}
	if s.mailer == nil {
		return errors.New("auth: mailer not configured")
	}
	exists, err := s.store.Users().EmailExists(ctx, addr.String())
	if err != nil {
		return fmt.Errorf("lookup email: %w", err)
	}
	if !exists {
		obs.Logger().DebugContext(ctx, "verification_skipped_unknown_email")
		return nil
	}

	key, err := s.signingKey(ctx)
	if err != nil {
		return err
	}
	defer secrets.Wipe(key)

	env := envelope.NewAt(addr, s.now()).WithTTL(s.verificationTTL)
	text, err := env.Encode(key)
	if err != nil {
		return fmt.Errorf("sign verification token: %w", err)
	}
	link := s.baseURL + "/verify-email?token=" + url.QueryEscape(text)
	return s.mailer.Send(ctx, mail.Message{
		To:      addr,
		Subject: "Verify your email",
		Body:    "Open the link below to verify your email address. It expires at " + env.ExpiresAt().UTC().Format(time.RFC1123) + ".\n\n" + link + "\n",
	})
}

// VerifyEmail checks a verification envelope and marks its address verified.
// Tampered input is reported as malformed and stale input as envelope.ErrExpired.
func (s *Service) VerifyEmail(ctx context.Context, text string) (mail.Address, error) {
	key, err := s.signingKey(ctx)
	if err != nil {
		return "", err
	}
	defer secrets.Wipe(key)

	env, err := envelope.Decode[mail.Address](text, key)
	if err != nil {
		return "", err
	}
	addr, err := env.PayloadAt(s.now())
	if err != nil {
		return "", err
	}
	if err := s.store.Users().MarkEmailVerified(ctx, addr.String()); err != nil {
		return "", fmt.Errorf("mark email verified: %w", err)
	}
	return addr, nil
}

func (s *Service) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	if err := ValidateUsername(username); err != nil {
		return false, err
	}
	exists, err := s.store.Users().UsernameExists(ctx, username)
	if err != nil {
		return false, fmt.Errorf("lookup username: %w", err)
	}
	return !exists, nil
}

func (s *Service) EmailAvailable(ctx context.Context, email string) (bool, error) {
	addr, err := ValidateEmail(email)
	if err != nil {
		return false, err
	}
	exists, err := s.store.Users().EmailExists(ctx, addr.String())
	if err != nil {
		return false, fmt.Errorf("lookup email: %w", err)
	}
	return !exists, nil
}
