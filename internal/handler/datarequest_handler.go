package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"otp-auth-service/internal/service"
	"otp-auth-service/internal/util"
)

// DataRequestHandler serves the approval-gated data-sharing protocol.
// All routes require a verified bearer token.
type DataRequestHandler struct {
	requests *service.DataRequestService
}

func NewDataRequestHandler(factory *service.ServiceFactory) *DataRequestHandler {
	return &DataRequestHandler{requests: factory.DataRequestService()}
}

type createDataRequest struct {
	TargetUserID string `json:"targetUserId"`
	DataType     string `json:"dataType"`
	Reason       string `json:"reason,omitempty"`
}

// Create opens a pending request against another customer's data.
func (h *DataRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid request body", service.ErrValidation), "Invalid request body")
		return
	}

	created, err := h.requests.Create(r.Context(), CallerCustomerID(r.Context()), req.TargetUserID, req.DataType, util.SanitizeInput(req.Reason))
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not create data request")
		return
	}
	respondEncrypted(w, r, http.StatusCreated, created, "Data request created")
}

type approveDataRequest struct {
	Data json.RawMessage `json:"data"`
}

// Approve is the owner's grant. The response carries the one-time
// request key for out-of-band delivery to the requester; it is encrypted
// under the owner's token in transit and never stored in the clear.
func (h *DataRequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid request body", service.ErrValidation), "Invalid request body")
		return
	}

	var data interface{}
	if len(req.Data) > 0 {
		data = req.Data
	}

	updated, requestKey, err := h.requests.Approve(r.Context(), chi.URLParam(r, "requestId"), CallerCustomerID(r.Context()), CallerToken(r.Context()), data)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not approve data request")
		return
	}
	respondEncrypted(w, r, http.StatusOK, map[string]interface{}{
		"request":    updated,
		"requestKey": requestKey,
	}, "Share this key with the requester through a separate channel; it will not be shown again")
}

// Reject is the owner's terminal refusal.
func (h *DataRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	updated, err := h.requests.Reject(r.Context(), chi.URLParam(r, "requestId"), CallerCustomerID(r.Context()))
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not reject data request")
		return
	}
	respondEncrypted(w, r, http.StatusOK, updated, "Data request rejected")
}

type decryptDataRequest struct {
	OwnerToken string `json:"ownerToken"`
	RequestKey string `json:"requestKey"`
}

// Decrypt hands the requester the shared plaintext, given both halves of
// the approval: the owner's token and the request key.
func (h *DataRequestHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid request body", service.ErrValidation), "Invalid request body")
		return
	}

	plaintext, err := h.requests.Decrypt(r.Context(), chi.URLParam(r, "requestId"), CallerCustomerID(r.Context()), req.OwnerToken, req.RequestKey)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not decrypt data request")
		return
	}
	respondEncrypted(w, r, http.StatusOK, map[string]interface{}{"data": plaintext}, "")
}

// Get returns one request to either party.
func (h *DataRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "requestId"), CallerCustomerID(r.Context()))
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not fetch data request")
		return
	}
	respondEncrypted(w, r, http.StatusOK, req, "")
}

// List returns both directions for the caller.
func (h *DataRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	incoming, outgoing, err := h.requests.ListForCustomer(r.Context(), CallerCustomerID(r.Context()))
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Could not list data requests")
		return
	}
	respondEncrypted(w, r, http.StatusOK, map[string]interface{}{
		"incoming": incoming,
		"outgoing": outgoing,
	}, "")
}
