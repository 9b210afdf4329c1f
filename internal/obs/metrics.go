package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	principalResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_principal_resolutions_total",
			Help: "Principal resolutions by credential scheme and outcome.",
		},
		[]string{"scheme", "outcome"},
	)

	permissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_permission_checks_total",
			Help: "Permission checks by outcome.",
		},
		[]string{"outcome"},
	)

	permissionChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_permission_changes_total",
			Help: "Permission assign/revoke attempts by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	keyRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_key_rotations_total",
			Help: "Secret key rotations by key name.",
		},
		[]string{"key"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	initOnce sync.Once
)

// Init registers all collectors in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			principalResolutions, permissionChecks, permissionChanges, keyRotations,
			ready,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePrincipal counts one resolution attempt. scheme is "none" when no
// credential was presented.
func ObservePrincipal(scheme, outcome string) {
	principalResolutions.WithLabelValues(scheme, outcome).Inc()
}

func ObservePermissionCheck(outcome string) {
	permissionChecks.WithLabelValues(outcome).Inc()
}

func ObservePermissionChange(action, outcome string) {
	permissionChanges.WithLabelValues(action, outcome).Inc()
}

func ObserveKeyRotation(key string) {
	keyRotations.WithLabelValues(key).Inc()
}

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument records RPS, latency and in-flight requests. route labels the
// request; it falls back to the raw path when it returns "".
func Instrument(next http.Handler, route func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		label := ""
		if route != nil {
			label = route(r)
		}
		if label == "" {
			label = r.URL.Path
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, label, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, label, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
