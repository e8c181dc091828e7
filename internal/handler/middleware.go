package handler

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"otp-auth-service/internal/service"
	"otp-auth-service/internal/util"
)

const apiKeyHeader = "X-OTP-API-Key"

// bearerToken pulls the access token from the Authorization header or,
// failing that, the access_token cookie set by the login flow.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}
	if cookie, err := r.Cookie("access_token"); err == nil {
		return cookie.Value
	}
	return ""
}

// requestMeta captures the client attributes stored on the session.
func requestMeta(r *http.Request) service.RequestMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		if idx := strings.IndexByte(ip, ','); idx >= 0 {
			ip = ip[:idx]
		}
		ip = strings.TrimSpace(ip)
	} else {
		ip = r.RemoteAddr
		if idx := strings.LastIndexByte(ip, ':'); idx >= 0 {
			ip = ip[:idx]
		}
	}
	return service.RequestMeta{
		IPAddress:   ip,
		UserAgent:   r.UserAgent(),
		Country:     r.Header.Get("CF-IPCountry"),
		Fingerprint: r.Header.Get("X-Device-Fingerprint"),
	}
}

// RequireAuth verifies the caller's bearer token and stashes the claims
// and raw token on the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondWithError(w, http.StatusUnauthorized, service.ErrAuthenticationRequired, "Missing access token")
			return
		}

		claims, err := h.tokens.Verify(r.Context(), token)
		if err != nil {
			respondWithError(w, getStatusCode(err), err, "Invalid access token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims, token)))
	})
}

// RequireAPIKey authenticates machine callers via the X-OTP-API-Key
// header. The verified record lands on the context for tenant checks.
func (h *AuthHandler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get(apiKeyHeader)
		if rawKey == "" {
			respondWithError(w, http.StatusUnauthorized, service.ErrAuthenticationRequired, "Missing API key")
			return
		}

		record, err := h.apiKeys.Verify(r.Context(), rawKey)
		if err != nil {
			util.Warn("API key verification failed", zap.Error(err))
			respondWithError(w, getStatusCode(err), err, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), record)))
	})
}

// requireSameCustomer rejects callers whose subject does not match the
// customer ID in the URL, unless the token carries isSuperAdmin.
func requireSameCustomer(w http.ResponseWriter, r *http.Request, customerID string) bool {
	claims := CallerClaims(r.Context())
	if claims == nil {
		respondWithError(w, http.StatusUnauthorized, service.ErrAuthenticationRequired, "Missing access token")
		return false
	}
	if isAdmin, _ := claims["isSuperAdmin"].(bool); isAdmin {
		return true
	}
	if sub, _ := claims["sub"].(string); sub == customerID {
		return true
	}
	respondWithError(w, http.StatusForbidden, service.ErrForbidden, "Customer mismatch")
	return false
}
