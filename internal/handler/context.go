package handler

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"otp-auth-service/internal/models"
)

type contextKey string

const (
	claimsContextKey contextKey = "auth.claims"
	tokenContextKey  contextKey = "auth.token"
	apiKeyContextKey contextKey = "auth.apikey"
)

// CallerClaims returns the verified access-token claims, or nil when the
// request was not bearer-authenticated.
func CallerClaims(ctx context.Context) jwt.MapClaims {
	claims, _ := ctx.Value(claimsContextKey).(jwt.MapClaims)
	return claims
}

// CallerToken returns the raw bearer token the request authenticated
// with, or "".
func CallerToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// CallerAPIKey returns the verified API-key record, or nil.
func CallerAPIKey(ctx context.Context) *models.APIKeyRecord {
	record, _ := ctx.Value(apiKeyContextKey).(*models.APIKeyRecord)
	return record
}

// CallerCustomerID extracts the subject from the verified claims.
func CallerCustomerID(ctx context.Context) string {
	claims := CallerClaims(ctx)
	if claims == nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

func withClaims(ctx context.Context, claims jwt.MapClaims, token string) context.Context {
	ctx = context.WithValue(ctx, claimsContextKey, claims)
	return context.WithValue(ctx, tokenContextKey, token)
}

func withAPIKey(ctx context.Context, record *models.APIKeyRecord) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, record)
}
