// Command smoke runs an end-to-end check against a running mona instance:
// gRPC health, signup, login, access-token generation and introspection.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/ids"
)

const password = "Sm0ke!test-pass"

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	baseURL := strings.TrimRight(envOr("MONA_SMOKE_URL", "http://localhost:8080"), "/")
	grpcAddr := envOr("MONA_SMOKE_GRPC_ADDR", "localhost:9090")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := checkHealth(ctx, grpcAddr); err != nil {
		log.Fatalf("grpc health at %s: %v", grpcAddr, err)
	}

	c := &client{base: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
	username := "smoke_" + strings.ToLower(ids.New()[14:])

	if _, err := c.form(ctx, "/signup", url.Values{
		"username": {username},
		"email":    {username + "@example.com"},
		"password": {password},
	}, nil, http.StatusCreated); err != nil {
		log.Fatalf("signup: %v", err)
	}

	resp, err := c.form(ctx, "/login", url.Values{"username": {username}, "password": {password}}, nil, http.StatusOK)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	var session string
	for _, ck := range resp.Cookies() {
		if ck.Name == auth.SessionCookieName {
			session = ck.Value
		}
	}
	if session == "" {
		log.Fatalf("login: no %s cookie", auth.SessionCookieName)
	}
	cookie := http.Header{"Cookie": {auth.SessionCookieName + "=" + session}}

	if _, err := c.do(ctx, http.MethodGet, "/permissions", nil, cookie, http.StatusOK); err != nil {
		log.Fatalf("list permissions: %v", err)
	}

	basic := http.Header{"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))}}
	resp, err = c.form(ctx, "/access-token/generate", url.Values{"name": {"smoke"}, "ttl_sec": {"300"}}, basic, http.StatusCreated)
	if err != nil {
		log.Fatalf("generate access token: %v", err)
	}
	var generated struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&generated); err != nil {
		log.Fatalf("decode access token: %v", err)
	}

	tokenAuth := http.Header{
		"Authorization": {"Token " + generated.AccessToken},
		"Content-Type":  {"application/json"},
	}
	body := strings.NewReader(`{"permissions":["` + auth.PermPermissionsList + `"]}`)
	resp, err = c.do(ctx, http.MethodPost, "/introspect", body, tokenAuth, http.StatusOK)
	if err != nil {
		log.Fatalf("introspect: %v", err)
	}
	var introspected struct {
		Scheme      string          `json:"scheme"`
		Permissions map[string]bool `json:"permissions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&introspected); err != nil {
		log.Fatalf("decode introspect: %v", err)
	}
	if introspected.Scheme != string(auth.SchemeAccessToken) || introspected.Permissions[auth.PermPermissionsList] {
		log.Fatalf("unexpected introspection: %+v", introspected)
	}

	if _, err := c.form(ctx, "/logout", nil, cookie, http.StatusOK); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if _, err := c.do(ctx, http.MethodGet, "/permissions", nil, cookie, http.StatusUnauthorized); err != nil {
		log.Fatalf("session still valid after logout: %v", err)
	}

	fmt.Printf("mona smoke test passed: user=%s\n", username)
}

func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "mona"})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("status %s", resp.GetStatus())
	}
	return nil
}

type client struct {
	base string
	http *http.Client
}

func (c *client) form(ctx context.Context, path string, vals url.Values, h http.Header, want int) (*http.Response, error) {
	headers := h.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(ctx, http.MethodPost, path, strings.NewReader(vals.Encode()), headers, want)
}

// do returns the response with its body buffered, so callers need not close it.
func (c *client) do(ctx context.Context, method, path string, body io.Reader, h http.Header, want int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range h {
		req.Header[k] = vs
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if resp.StatusCode != want {
		return nil, fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}
