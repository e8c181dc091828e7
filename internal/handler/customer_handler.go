package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"otp-auth-service/internal/service"
)

// CustomerHandler exposes customer lookup and the admin status switch.
type CustomerHandler struct {
	customers *service.CustomerService
}

func NewCustomerHandler(factory *service.ServiceFactory) *CustomerHandler {
	return &CustomerHandler{customers: factory.CustomerService()}
}

// Get returns the caller's own customer record (or any record for a
// super admin).
func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")
	if !requireSameCustomer(w, r, customerID) {
		return
	}

	customer, err := h.customers.Get(r.Context(), customerID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not fetch customer")
		return
	}
	respondEncrypted(w, r, http.StatusOK, customer, "")
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetStatus suspends or reactivates a customer. Super admin only.
func (h *CustomerHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	claims := CallerClaims(r.Context())
	if isAdmin, _ := claims["isSuperAdmin"].(bool); !isAdmin {
		respondWithError(w, http.StatusForbidden, service.ErrForbidden, "Admin access required")
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid request body", service.ErrValidation), "Invalid request body")
		return
	}

	customer, err := h.customers.SetStatus(r.Context(), chi.URLParam(r, "customerId"), req.Status)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not update customer status")
		return
	}
	respondEncrypted(w, r, http.StatusOK, customer, "Customer status updated")
}
