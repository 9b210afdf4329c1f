package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

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

func (o *outbox) last(t *testing.T) mail.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return o.sent[len(o.sent)-1]
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	store  *memory.Store
	outbox *outbox
	mu     sync.Mutex
	now    time.Time
}

func (c *apiClient) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *apiClient) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	ctx := context.Background()

	c := &apiClient{
		t:      t,
		store:  memory.New(),
		outbox: &outbox{},
		now:    time.Now().UTC().Truncate(time.Second),
	}
	if err := c.store.Permissions().Ensure(ctx, append([]auth.Permission{{Name: "post:/x"}}, auth.BuiltinPermissions...)); err != nil {
		t.Fatalf("seed permissions: %v", err)
	}
	if err := c.store.Permissions().EnsureGroup(ctx, auth.GroupSignup, auth.SignupPermissions); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	keys, err := secrets.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("secrets: %v", err)
	}
	svc, err := auth.NewService(c.store,
		auth.WithClock(c.clock),
		auth.WithSecrets(keys),
		auth.WithMailer(c.outbox),
		auth.WithBaseURL("https://id.example.com"),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	api := New(svc, WithVersion("test"), WithRateLimit(1000, 1000))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	c.baseURL = srv.URL
	c.client = srv.Client()
	return c
}

func (c *apiClient) do(method, path string, body io.Reader, headers http.Header) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *apiClient) postForm(path string, form url.Values, headers http.Header) *http.Response {
	c.t.Helper()
	h := headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(http.MethodPost, path, strings.NewReader(form.Encode()), h)
}

func (c *apiClient) sendJSON(method, path string, body any, headers http.Header) *http.Response {
	c.t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		c.t.Fatalf("marshal body: %v", err)
	}
	h := headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")
	return c.do(method, path, bytes.NewReader(payload), h)
}

func (c *apiClient) get(path string, params url.Values, headers http.Header) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) signup(username string) {
	c.t.Helper()
	resp := c.postForm("/signup", url.Values{
		"username": {username},
		"email":    {username + "@example.com"},
		"password": {testPassword},
	}, nil)
	expectStatus(c.t, resp, http.StatusCreated)
}

func (c *apiClient) grant(username, permission string) {
	c.t.Helper()
	u, err := c.store.Users().FindByUsername(context.Background(), username)
	if err != nil {
		c.t.Fatalf("find %s: %v", username, err)
	}
	if err := c.store.Grant(auth.Subject{Type: auth.SubjectUser, ID: u.ID}, permission); err != nil {
		c.t.Fatalf("grant: %v", err)
	}
}

func basicAuth(username string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+testPassword)))
	return h
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	body := decodeBody(t, resp)
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d: %v", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
	return body
}

func assignBody(permission, username string) map[string]any {
	return map[string]any{
		"permission": permission,
		"assignee":   map[string]any{"user": map[string]any{"username": username}},
	}
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestAPI(t)

	body := expectStatus(t, c.get("/healthz", nil, nil), http.StatusOK)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz body: %v", body)
	}
	expectStatus(t, c.get("/readyz", nil, nil), http.StatusOK)
	expectStatus(t, c.get("/heartbeat", nil, nil), http.StatusOK)

	resp := c.get("/nope", nil, nil)
	body = expectStatus(t, resp, http.StatusNotFound)
	if body["request_id"] == nil {
		t.Fatalf("expected request_id in 404 body")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
	expectStatus(t, c.do(http.MethodPut, "/login", nil, nil), http.StatusMethodNotAllowed)
}

func TestSignupLoginLogout(t *testing.T) {
	c := newTestAPI(t)
	c.signup("joe")

	resp := c.postForm("/signup", url.Values{
		"username": {"joe"}, "email": {"other@example.com"}, "password": {testPassword},
	}, nil)
	expectStatus(t, resp, http.StatusConflict)
	resp = c.postForm("/signup", url.Values{
		"username": {"ann"}, "email": {"ann@example.com"}, "password": {"weak"},
	}, nil)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = c.postForm("/login", url.Values{"username": {"joe"}, "password": {"wrong"}}, nil)
	body := expectStatus(t, resp, http.StatusUnauthorized)
	if body["code"] != "auth.basic.invalid-credentials" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate on 401")
	}

	resp = c.postForm("/login", url.Values{"username": {"joe"}, "password": {testPassword}}, nil)
	expectStatus(t, resp, http.StatusOK)
	var session *http.Cookie
	for _, ck := range resp.Cookies() {
		if ck.Name == auth.SessionCookieName {
			session = ck
		}
	}
	if session == nil {
		t.Fatal("session cookie not set")
	}
	if !session.HttpOnly || !session.Secure || session.SameSite != http.SameSiteStrictMode || session.Path != "/" {
		t.Fatalf("weak session cookie: %+v", session)
	}
	if session.MaxAge < int((29 * 24 * time.Hour).Seconds()) {
		t.Fatalf("unexpected max age %d", session.MaxAge)
	}

	cookie := http.Header{"Cookie": {session.Name + "=" + session.Value}}
	body = expectStatus(t, c.get("/permissions", nil, cookie), http.StatusOK)
	perms, _ := body["permissions"].([]any)
	if len(perms) != len(auth.SignupPermissions) {
		t.Fatalf("expected signup permissions, got %v", body["permissions"])
	}

	expectStatus(t, c.postForm("/logout", nil, cookie), http.StatusOK)
	body = expectStatus(t, c.get("/permissions", nil, cookie), http.StatusUnauthorized)
	if body["code"] != "auth.session.id.unassociated" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func TestCredentialErrors(t *testing.T) {
	c := newTestAPI(t)
	c.signup("joe")

	body := expectStatus(t, c.get("/permissions", nil, nil), http.StatusUnauthorized)
	if body["code"] != "auth.no-credentials" {
		t.Fatalf("unexpected code: %v", body["code"])
	}

	// a broken token is not rescued by valid basic credentials
	h := http.Header{"Authorization": {"Token !!!"}}
	body = expectStatus(t, c.get("/permissions", nil, h), http.StatusBadRequest)
	if body["code"] != "auth.access-token.authorization-header.base64-decode" {
		t.Fatalf("unexpected code: %v", body["code"])
	}

	h = http.Header{"Cookie": {auth.SessionCookieName + "=garbage"}}
	expectStatus(t, c.get("/permissions", nil, h), http.StatusBadRequest)

	// net/http's cookie parser drops this value; it must still be rejected
	h = http.Header{"Cookie": {auth.SessionCookieName + `="abc\def"`}}
	body = expectStatus(t, c.sendJSON(http.MethodPost, "/introspect", map[string]any{"permissions": []string{}}, h), http.StatusBadRequest)
	if body["code"] != "auth.session.cookie.base64-decode" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func TestPermissionAssignmentFlow(t *testing.T) {
	c := newTestAPI(t)
	c.signup("joe")
	c.signup("admin")
	c.grant("admin", auth.PermPermissionsAssign)

	introspect := func() bool {
		t.Helper()
		body := expectStatus(t, c.sendJSON(http.MethodPost, "/introspect",
			map[string]any{"permissions": []string{"post:/x"}}, basicAuth("joe")), http.StatusOK)
		return body["permissions"].(map[string]any)["post:/x"].(bool)
	}
	if introspect() {
		t.Fatal("joe must not hold post:/x yet")
	}

	// admin cannot hand out what it does not hold
	resp := c.sendJSON(http.MethodPost, "/permissions", assignBody("post:/x", "joe"), basicAuth("admin"))
	expectStatus(t, resp, http.StatusForbidden)
	if len(c.store.Audit()) != 0 {
		t.Fatal("rejected grant must not be audited")
	}

	c.grant("admin", "post:/x")
	resp = c.sendJSON(http.MethodPost, "/permissions", assignBody("post:/x", "joe"), basicAuth("admin"))
	expectStatus(t, resp, http.StatusCreated)
	if !introspect() {
		t.Fatal("joe should hold post:/x")
	}
	if n := len(c.store.Audit()); n != 1 {
		t.Fatalf("expected 1 audit row, got %d", n)
	}

	resp = c.sendJSON(http.MethodPost, "/permissions", assignBody("post:/x", "ghost"), basicAuth("admin"))
	expectStatus(t, resp, http.StatusNotFound)

	resp = c.sendJSON(http.MethodPost, "/permissions", map[string]any{"permission": "post:/x", "assignee": map[string]any{}}, basicAuth("admin"))
	expectStatus(t, resp, http.StatusBadRequest)

	resp = c.sendJSON(http.MethodDelete, "/permissions", assignBody("post:/x", "joe"), basicAuth("admin"))
	expectStatus(t, resp, http.StatusForbidden)

	c.grant("admin", auth.PermPermissionsRevoke)
	resp = c.sendJSON(http.MethodDelete, "/permissions", assignBody("post:/x", "joe"), basicAuth("admin"))
	expectStatus(t, resp, http.StatusOK)
	if introspect() {
		t.Fatal("joe should no longer hold post:/x")
	}
}

func TestAccessTokenFlow(t *testing.T) {
	c := newTestAPI(t)
	c.signup("joe")

	resp := c.postForm("/access-token/generate", url.Values{"name": {"ci"}, "ttl_sec": {"3600"}}, basicAuth("joe"))
	body := expectStatus(t, resp, http.StatusCreated)
	encoded, _ := body["access_token"].(string)
	if encoded == "" || body["expires_at"] == nil {
		t.Fatalf("unexpected generate body: %v", body)
	}

	resp = c.postForm("/access-token/generate", url.Values{"name": {"ci"}}, basicAuth("joe"))
	expectStatus(t, resp, http.StatusConflict)
	for _, ttl := range []string{"-5", "0", "abc", "9223372037", "18446744074", "99999999999999999999"} {
		resp = c.postForm("/access-token/generate", url.Values{"name": {"ttl-" + ttl}, "ttl_sec": {ttl}}, basicAuth("joe"))
		expectStatus(t, resp, http.StatusBadRequest)
	}
	resp = c.postForm("/access-token/generate", url.Values{"name": {"long"}, "ttl_sec": {"9223372036"}}, basicAuth("joe"))
	body = expectStatus(t, resp, http.StatusCreated)
	expires, err := time.Parse(time.RFC3339Nano, body["expires_at"].(string))
	if err != nil {
		t.Fatalf("parse expires_at: %v", err)
	}
	if !expires.After(c.clock().Add(290 * 365 * 24 * time.Hour)) {
		t.Fatalf("long ttl wrapped: expires_at %s", expires)
	}

	tokenAuth := http.Header{"Authorization": {"Token " + encoded}}
	body = expectStatus(t, c.sendJSON(http.MethodPost, "/introspect", map[string]any{"permissions": []string{auth.PermPermissionsList}}, tokenAuth), http.StatusOK)
	if body["scheme"] != string(auth.SchemeAccessToken) {
		t.Fatalf("unexpected scheme: %v", body["scheme"])
	}
	expectStatus(t, c.get("/permissions", nil, tokenAuth), http.StatusForbidden)

	body = expectStatus(t, c.get("/access-token/permissions", url.Values{"token_name": {"ci"}}, basicAuth("joe")), http.StatusOK)
	if perms, _ := body["permissions"].([]any); len(perms) != 0 {
		t.Fatalf("fresh token must have no permissions: %v", perms)
	}
	expectStatus(t, c.get("/access-token/permissions", url.Values{"token_name": {"nope"}}, basicAuth("joe")), http.StatusNotFound)

	c.advance(time.Hour + time.Second)
	body = expectStatus(t, c.get("/permissions", nil, tokenAuth), http.StatusUnauthorized)
	if body["code"] != "auth.access-token.expired" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func verificationLink(t *testing.T, body string) string {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "https://id.example.com/verify-email?") {
			u, err := url.Parse(line)
			if err != nil {
				t.Fatalf("parse link: %v", err)
			}
			return u.Query().Get("token")
		}
	}
	t.Fatalf("no link in %q", body)
	return ""
}

func TestEmailVerificationFlow(t *testing.T) {
	c := newTestAPI(t)
	c.signup("joe")
	text := verificationLink(t, c.outbox.last(t).Body)

	expectStatus(t, c.get("/verify-email", nil, nil), http.StatusBadRequest)
	expectStatus(t, c.get("/verify-email", url.Values{"token": {text + "x"}}, nil), http.StatusBadRequest)

	c.advance(-time.Minute)
	expectStatus(t, c.get("/verify-email", url.Values{"token": {text}}, nil), http.StatusBadRequest)
	c.advance(time.Minute)

	body := expectStatus(t, c.get("/verify-email", url.Values{"token": {text}}, nil), http.StatusOK)
	if body["email"] != "joe@example.com" {
		t.Fatalf("unexpected body: %v", body)
	}

	expectStatus(t, c.postForm("/initiate-email-verification", url.Values{"email": {"joe@example.com"}}, nil), http.StatusAccepted)
	text = verificationLink(t, c.outbox.last(t).Body)
	c.advance(time.Hour + time.Second)
	expectStatus(t, c.get("/verify-email", url.Values{"token": {text}}, nil), http.StatusGone)

	expectStatus(t, c.postForm("/initiate-email-verification", url.Values{"email": {"bogus"}}, nil), http.StatusBadRequest)
}

func TestRotateKeyInvalidatesLinks(t *testing.T) {
	c := newTestAPI(t)
	c.signup("joe")
	text := verificationLink(t, c.outbox.last(t).Body)

	expectStatus(t, c.postForm("/rotate-key", url.Values{"key": {"hmac"}}, basicAuth("joe")), http.StatusForbidden)
	c.grant("joe", auth.PermRotateKey)
	expectStatus(t, c.postForm("/rotate-key", url.Values{"key": {"master"}}, basicAuth("joe")), http.StatusBadRequest)
	expectStatus(t, c.postForm("/rotate-key", url.Values{"key": {"hmac"}}, basicAuth("joe")), http.StatusOK)

	expectStatus(t, c.get("/verify-email", url.Values{"token": {text}}, nil), http.StatusBadRequest)
}

func TestAvailability(t *testing.T) {
	c := newTestAPI(t)
	c.signup("joe")

	body := expectStatus(t, c.get("/username/availability", url.Values{"username": {"joe"}}, nil), http.StatusOK)
	if body["available"] != false {
		t.Fatalf("joe should be taken: %v", body)
	}
	body = expectStatus(t, c.get("/email/availability", url.Values{"email": {"ann@example.com"}}, nil), http.StatusOK)
	if body["available"] != true {
		t.Fatalf("ann@example.com should be free: %v", body)
	}
	expectStatus(t, c.get("/username/availability", url.Values{"username": {"!"}}, nil), http.StatusBadRequest)
}

func TestInternalErrorsAreMasked(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	handleAuthError(rr, req, errors.New("pq: connection refused to 10.1.2.3"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "10.1.2.3") {
		t.Fatalf("internal detail leaked: %s", rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["trace_id"] == "" || body["trace_id"] == nil {
		t.Fatalf("expected trace_id: %v", body)
	}
}
