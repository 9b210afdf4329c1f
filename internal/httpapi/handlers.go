package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/obs"
)

const serviceName = "mona"

// API is the HTTP layer over auth.Service.
type API struct {
	svc     *auth.Service
	version string

	rateBurst   int
	ratePerSec  float64
	corsOrigins []string
}

// Option configures the API.
type Option func(*API)

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithRateLimit sets the per-IP token bucket for credential-bearing routes.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

func New(svc *auth.Service, opts ...Option) *API {
	a := &API{
		svc:        svc,
		version:    "dev",
		rateBurst:  20,
		ratePerSec: 10,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler builds the routed handler with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, instrument, SecurityHeaders, CORS(a.corsOrigins), MaxBodyBytes(1<<20))
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/heartbeat", a.Heartbeat)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(a.rateBurst, a.ratePerSec))

		r.Post("/signup", a.handleSignup)
		r.Post("/login", a.handleLogin)
		r.Post("/logout", a.handleLogout)
		r.Post("/initiate-email-verification", a.handleInitiateEmailVerification)
		r.Get("/verify-email", a.handleVerifyEmail)
		r.Get("/username/availability", a.handleUsernameAvailability)
		r.Get("/email/availability", a.handleEmailAvailability)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.Post("/access-token/generate", a.handleGenerateAccessToken)
			r.Get("/access-token/permissions", a.handleAccessTokenPermissions)
			r.Get("/permissions", a.handleListPermissions)
			r.Post("/permissions", a.handleAssignPermission)
			r.Delete("/permissions", a.handleRevokePermission)
			r.Post("/rotate-key", a.handleRotateKey)
			r.Post("/introspect", a.handleIntrospect)
		})
	})
	return r
}

func instrument(next http.Handler) http.Handler {
	return obs.Instrument(next, routePattern)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Ready(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
