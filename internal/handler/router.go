package handler

import (
	"context"
	"net/http"
	"time"

	"otp-auth-service/internal/metrics"
	"otp-auth-service/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// HealthChecker reports backing-store readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// requireHTTPS rejects any request that wasn’t made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired) // 426
			w.Write([]byte(`{"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RouterDeps carries everything the router wires together.
type RouterDeps struct {
	Auth         *AuthHandler
	APIKeys      *APIKeyHandler
	DataRequests *DataRequestHandler
	Customers    *CustomerHandler
	Health       HealthChecker
	TLSEnabled   bool
	Logger       *zap.Logger
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(deps RouterDeps) chi.Router {
	router := chi.NewRouter()

	if deps.TLSEnabled {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(deps.Logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(metrics.Instrument)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", apiKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if deps.Health != nil {
			if err := deps.Health.HealthCheck(ctx); err != nil {
				util.Error("Health check failed", zap.Error(err))
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "otp-auth-service"})
	})

	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// OIDC discovery surface
	router.Get("/.well-known/jwks.json", deps.Auth.JWKS)

	// Login and token lifecycle
	router.Route("/auth", func(r chi.Router) {
		r.Post("/request-otp", deps.Auth.RequestOTP)
		r.Post("/verify-otp", deps.Auth.VerifyOTP)
		r.Post("/refresh", deps.Auth.Refresh)
		r.Post("/logout", deps.Auth.Logout)
		r.With(deps.Auth.RequireAPIKey).Post("/introspect", deps.Auth.Introspect)
	})

	// Customer-facing resources, bearer-authenticated
	router.Route("/customer", func(r chi.Router) {
		r.Use(deps.Auth.RequireAuth)

		r.Route("/data-requests", func(r chi.Router) {
			r.Post("/", deps.DataRequests.Create)
			r.Get("/", deps.DataRequests.List)
			r.Get("/{requestId}", deps.DataRequests.Get)
			r.Post("/{requestId}/approve", deps.DataRequests.Approve)
			r.Post("/{requestId}/reject", deps.DataRequests.Reject)
			r.Post("/{requestId}/decrypt", deps.DataRequests.Decrypt)
		})
	})

	// Admin surface: key management and customer administration
	router.Route("/admin/customers/{customerId}", func(r chi.Router) {
		r.Use(deps.Auth.RequireAuth)

		r.Get("/", deps.Customers.Get)
		r.Put("/status", deps.Customers.SetStatus)

		r.Route("/api-keys", func(r chi.Router) {
			r.Post("/", deps.APIKeys.Create)
			r.Get("/", deps.APIKeys.List)
			r.Post("/{keyId}/reveal", deps.APIKeys.Reveal)
			r.Post("/{keyId}/rotate", deps.APIKeys.Rotate)
			r.Delete("/{keyId}", deps.APIKeys.Revoke)
			r.Put("/{keyId}/origins", deps.APIKeys.UpdateOrigins)
		})
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
