package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"otp-auth-service/internal/metrics"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/util"
)

// APIKeyHandler serves the per-customer API-key lifecycle. Every route is
// bearer-authenticated and tenant-checked against the URL customer ID.
type APIKeyHandler struct {
	apiKeys *service.APIKeyService
}

func NewAPIKeyHandler(factory *service.ServiceFactory) *APIKeyHandler {
	return &APIKeyHandler{apiKeys: factory.APIKeyService()}
}

type createAPIKeyRequest struct {
	Name           string   `json:"name"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
	AllowedScopes  []string `json:"allowedScopes,omitempty"`
}

// Create mints a new key. The plaintext secret appears in this response
// only; afterwards it is retrievable solely through Reveal.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if !requireSameCustomer(w, r, customerID) {
		return
	}

	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid request body", service.ErrValidation), "Invalid request body")
		return
	}
	req.Name = util.SanitizeInput(req.Name)

	created, err := h.apiKeys.Create(r.Context(), customerID, req.Name, req.AllowedOrigins, req.AllowedScopes)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not create API key")
		return
	}
	metrics.APIKeyOperation("create")
	respondEncrypted(w, r, http.StatusCreated, created, created.Message)
}

// List returns the customer's keys. Each entry's secret is re-encrypted
// under the caller's JWT and degrades to null independently.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if !requireSameCustomer(w, r, customerID) {
		return
	}

	views, err := h.apiKeys.List(r.Context(), customerID, CallerToken(r.Context()))
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not list API keys")
		return
	}
	respondEncrypted(w, r, http.StatusOK, map[string]interface{}{"keys": views}, "")
}

// Reveal returns the plaintext secret once, encrypted under the caller's
// token in transit.
func (h *APIKeyHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if !requireSameCustomer(w, r, customerID) {
		return
	}

	secret, message, err := h.apiKeys.Reveal(r.Context(), customerID, chi.URLParam(r, "keyId"), CallerToken(r.Context()))
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not reveal API key")
		return
	}
	metrics.APIKeyOperation("reveal")
	respondEncrypted(w, r, http.StatusOK, map[string]string{"apiKey": secret}, message)
}

// Rotate issues a replacement key and marks the old one rotated.
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if !requireSameCustomer(w, r, customerID) {
		return
	}

	created, err := h.apiKeys.Rotate(r.Context(), customerID, chi.URLParam(r, "keyId"))
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not rotate API key")
		return
	}
	metrics.APIKeyOperation("rotate")
	respondEncrypted(w, r, http.StatusOK, created, created.Message)
}

// Revoke disables a key immediately. The record is kept for audit.
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if !requireSameCustomer(w, r, customerID) {
		return
	}

	if err := h.apiKeys.Revoke(r.Context(), customerID, chi.URLParam(r, "keyId")); err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not revoke API key")
		return
	}
	metrics.APIKeyOperation("revoke")
	respondEncrypted(w, r, http.StatusOK, nil, "API key revoked")
}

type updateOriginsRequest struct {
	AllowedOrigins []string `json:"allowedOrigins"`
	AllowedScopes  []string `json:"allowedScopes,omitempty"`
}

// UpdateOrigins replaces a key's origin allowlist (and optionally its
// scopes).
func (h *APIKeyHandler) UpdateOrigins(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if !requireSameCustomer(w, r, customerID) {
		return
	}

	var req updateOriginsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid request body", service.ErrValidation), "Invalid request body")
		return
	}

	view, err := h.apiKeys.UpdateOrigins(r.Context(), customerID, chi.URLParam(r, "keyId"), req.AllowedOrigins, req.AllowedScopes)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not update origins")
		return
	}
	respondEncrypted(w, r, http.StatusOK, view, "Origins updated")
}
