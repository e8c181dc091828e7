package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/util"
)

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// respondWithJSON sends a JSON response.
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// respondWithError sends an error response.
func respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	util.Warn("HTTP error response",
		zap.Error(err),
		zap.Int("status_code", statusCode),
		zap.String("message", message),
	)
	respondWithJSON(w, statusCode, errorResponse(err, message))
}

// respondEncrypted applies the outer response-encryption layer: when the
// request carried a bearer token the success envelope is encrypted under
// it, so only the token holder can read the body. Encryption failure
// falls back to plaintext rather than failing the call.
func respondEncrypted(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}, message string) {
	token := CallerToken(r.Context())
	if token == "" || data == nil {
		respondWithJSON(w, statusCode, successResponse(data, message))
		return
	}

	payload, err := encryption.EncryptWithJWT(data, token)
	if err != nil {
		util.Warn("Response encryption failed, sending plaintext", zap.Error(err))
		respondWithJSON(w, statusCode, successResponse(data, message))
		return
	}
	respondWithJSON(w, statusCode, Response{
		Success: true,
		Data:    map[string]interface{}{"encrypted": true, "payload": payload},
		Message: message,
	})
}

// getStatusCode maps service errors onto the HTTP taxonomy.
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
