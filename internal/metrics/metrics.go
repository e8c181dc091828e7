// Package metrics exposes Prometheus counters for the token and API-key
// protocols plus standard HTTP instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	tokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total",
		Help: "Access/ID/refresh token triples issued.",
	})

	tokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_revoked_total",
		Help: "Tokens deny-listed before natural expiry.",
	})

	introspectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_introspections_total",
			Help: "Introspection calls by result.",
		},
		[]string{"active"},
	)

	apiKeyOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_api_key_operations_total",
			Help: "API key lifecycle operations.",
		},
		[]string{"operation"},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		tokensIssuedTotal,
		tokensRevokedTotal,
		introspectionsTotal,
		apiKeyOperationsTotal,
	)
}

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func TokenIssued()  { tokensIssuedTotal.Inc() }
func TokenRevoked() { tokensRevokedTotal.Inc() }

func IntrospectionObserved(active bool) {
	introspectionsTotal.WithLabelValues(strconv.FormatBool(active)).Inc()
}

func APIKeyOperation(operation string) {
	apiKeyOperationsTotal.WithLabelValues(operation).Inc()
}

// Instrument measures request counts and latency per method/route/status.
// The route pattern keeps label cardinality bounded: IDs in the URL would
// otherwise mint one series per customer or key.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}
