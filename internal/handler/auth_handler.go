package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/metrics"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/signing"
)

// AuthHandler serves the OTP login flow, the token lifecycle endpoints,
// and the JWKS document.
type AuthHandler struct {
	tokens    *service.TokenService
	customers *service.CustomerService
	apiKeys   *service.APIKeyService
	signer    *signing.Context
	cfg       *config.Config
}

func NewAuthHandler(factory *service.ServiceFactory, signer *signing.Context, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		tokens:    factory.TokenService(),
		customers: factory.CustomerService(),
		apiKeys:   factory.APIKeyService(),
		signer:    signer,
		cfg:       cfg,
	}
}

type requestOTPRequest struct {
	Email string `json:"email"`
}

// RequestOTP kicks off a login by emailing a one-time code. The response
// does not reveal whether the email belongs to an existing customer.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid request body", service.ErrValidation), "Invalid request body")
		return
	}

	meta := requestMeta(r)
	if err := h.customers.RequestOTP(r.Context(), req.Email, meta.IPAddress); err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not start login")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "If the address is valid, a code is on its way"))
}

type verifyOTPRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	DisplayName string `json:"displayName,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// VerifyOTP completes the login: on a correct code it resolves or
// creates the customer and issues a token pair.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid request body", service.ErrValidation), "Invalid request body")
		return
	}

	customer, created, err := h.customers.VerifyOTP(r.Context(), req.Email, req.Code, req.DisplayName)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Verification failed")
		return
	}

	pair, err := h.tokens.Issue(r.Context(), customer, requestMeta(r), nil, req.Scope)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not issue tokens")
		return
	}
	metrics.TokenIssued()
	h.setSessionCookies(w, pair)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondWithJSON(w, status, successResponse(map[string]interface{}{
		"customer": customer,
		"tokens":   pair,
	}, "Login successful"))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a single-use refresh token for a new pair. The new
// refresh token inherits the absolute expiry of the original grant.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		if cookie, cerr := r.Cookie("refresh_token"); cerr == nil {
			req.RefreshToken = cookie.Value
		}
	}
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: refresh_token is required", service.ErrValidation), "Missing refresh token")
		return
	}

	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Refresh failed")
		return
	}
	metrics.TokenIssued()
	h.setSessionCookies(w, pair)
	respondWithJSON(w, http.StatusOK, successResponse(pair, "Tokens refreshed"))
}

// Logout revokes the caller's access token and clears the session
// cookies. Revoking an already-expired token is a no-op success.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		respondWithError(w, http.StatusUnauthorized, service.ErrAuthenticationRequired, "Missing access token")
		return
	}

	if err := h.tokens.Revoke(r.Context(), token); err != nil {
		respondWithError(w, getStatusCode(err), err, "Logout failed")
		return
	}
	metrics.TokenRevoked()
	h.clearSessionCookies(w)
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

type introspectRequest struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id,omitempty"`
}

// Introspect implements RFC 7662 for API-key-authenticated callers.
// Invalid, revoked, and mismatched tokens all yield {active:false}
// rather than an error, so the endpoint cannot be used to probe tokens.
func (h *AuthHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	callerKey := CallerAPIKey(r.Context())

	var req introspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: token is required", service.ErrValidation), "Missing token")
		return
	}

	result, err := h.tokens.Introspect(r.Context(), req.Token, req.ClientID, callerKey)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Introspection failed")
		return
	}
	metrics.IntrospectionObserved(result.Active)
	respondWithJSON(w, http.StatusOK, result)
}

// JWKS publishes the RSA verification keys. Only public material is
// served; the legacy HS256 secret is never part of the set.
func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	respondWithJSON(w, http.StatusOK, h.signer.PublicJWKS())
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, pair *service.TokenPair) {
	secure := h.cfg.IsProduction()
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(pair.ExpiresIn),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    pair.RefreshToken,
		Path:     "/auth/refresh",
		MaxAge:   int(pair.RefreshExpiresIn),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	expired := time.Unix(0, 0)
	http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "", Path: "/", Expires: expired, HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "", Path: "/auth/refresh", Expires: expired, HttpOnly: true})
}
