package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/crypto"
	"otp-auth-service/internal/models"
	redisrepo "otp-auth-service/internal/repository/redis"
	"otp-auth-service/internal/signing"
	"otp-auth-service/internal/util"
)

const refreshTokenBytes = 64

// RequestMeta carries per-request client attributes recorded on sessions
// and refresh tokens.
type RequestMeta struct {
	IPAddress   string
	UserAgent   string
	Country     string
	Fingerprint string
}

// TokenPair is the issue/refresh result handed back to the caller.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	IDToken          string `json:"id_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Scope            string `json:"scope"`
	CSRF             string `json:"csrf"`
}

// IntrospectionResult is the RFC 7662 response body.
type IntrospectionResult struct {
	Active     bool   `json:"active"`
	Sub        string `json:"sub,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Exp        int64  `json:"exp,omitempty"`
	Iat        int64  `json:"iat,omitempty"`
	Iss        string `json:"iss,omitempty"`
	Aud        string `json:"aud,omitempty"`
	TokenType  string `json:"token_type,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
}

// TokenService issues, verifies, introspects, refreshes, and revokes the
// service's OIDC-style tokens. Sessions, refresh records, and the deny
// list all live in the KV store; the signing context owns key material.
type TokenService struct {
	signer    *signing.Context
	sessions  *redisrepo.SessionStore
	customers *redisrepo.CustomerStore
	events    EventPublisher
	cfg       *config.AuthConfig
	logger    *zap.Logger
}

func NewTokenService(
	signer *signing.Context,
	sessions *redisrepo.SessionStore,
	customers *redisrepo.CustomerStore,
	events EventPublisher,
	cfg *config.AuthConfig,
	logger *zap.Logger,
) *TokenService {
	return &TokenService{
		signer:    signer,
		sessions:  sessions,
		customers: customers,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

// Issue creates an access/ID/refresh token triple for the customer. The
// presenting API key, when any, shapes the session's SSO scope and the
// granted OAuth scope.
func (s *TokenService) Issue(ctx context.Context, customer *models.Customer, meta RequestMeta, apiKey *models.APIKeyRecord, requestedScope string) (*TokenPair, error) {
	// A customer cannot exist without both; refuse rather than mint a
	// token with holes in it.
	if customer == nil || customer.CustomerID == "" {
		return nil, fmt.Errorf("%w: missing customer id", ErrValidation)
	}
	if customer.DisplayName == "" {
		return nil, fmt.Errorf("%w: missing display name", ErrValidation)
	}
	if !customer.IsActive() {
		return nil, fmt.Errorf("%w: customer is not active", ErrForbidden)
	}

	now := time.Now().UTC()
	ssoScope := resolveSSOScope(apiKey)
	scope := s.resolveScope(requestedScope, apiKey)
	absoluteExpiry := now.Add(s.cfg.RefreshTokenTTL)

	pair, accessToken, err := s.mintTokens(customer, apiKey, scope, ssoScope, now, absoluteExpiry)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := crypto.RandomToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	keyID := ""
	if apiKey != nil {
		keyID = apiKey.KeyID
	}
	record := &models.RefreshTokenRecord{
		CustomerID:        customer.CustomerID,
		AbsoluteExpiresAt: absoluteExpiry,
		IPAddress:         meta.IPAddress,
		KeyID:             keyID,
		Scope:             scope,
		SSOScope:          ssoScope,
		CreatedAt:         now,
	}
	if err := s.sessions.SaveRefreshToken(ctx, crypto.SHA256Hex(rawRefresh), record, time.Until(absoluteExpiry)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := s.persistSession(ctx, customer.CustomerID, accessToken, meta, absoluteExpiry); err != nil {
		return nil, err
	}

	pair.RefreshToken = rawRefresh
	pair.RefreshExpiresIn = int64(time.Until(absoluteExpiry).Seconds())

	util.Info("Tokens issued",
		zap.String("customer_id", customer.CustomerID),
		zap.String("key_id", keyID),
		zap.String("scope", scope))
	return pair, nil
}

// Refresh rotates a refresh token. The old record is invalidated before
// the replacement is written, the replacement inherits the original
// absolute expiry, and the session TTL is realigned to it.
func (s *TokenService) Refresh(ctx context.Context, rawRefreshToken string, meta RequestMeta) (*TokenPair, error) {
	tokenHash := crypto.SHA256Hex(rawRefreshToken)
	record, err := s.sessions.GetRefreshToken(ctx, tokenHash)
	if err != nil {
		if redisrepo.IsNotFound(err) {
			return nil, fmt.Errorf("%w: unknown refresh token", ErrAuthenticationRequired)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	now := time.Now().UTC()
	if now.After(record.AbsoluteExpiresAt) {
		_ = s.sessions.DeleteRefreshToken(ctx, tokenHash)
		return nil, fmt.Errorf("%w: refresh token expired", ErrAuthenticationRequired)
	}

	customer, err := s.customers.Get(ctx, record.CustomerID)
	if err != nil {
		if redisrepo.IsNotFound(err) {
			return nil, fmt.Errorf("%w: customer no longer exists", ErrAuthenticationRequired)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if !customer.IsActive() {
		return nil, fmt.Errorf("%w: customer is not active", ErrForbidden)
	}

	// Single-use: the old hash must stop resolving before the new token
	// exists.
	if err := s.sessions.DeleteRefreshToken(ctx, tokenHash); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	// The rotated token carries exactly the scope the login granted;
	// refresh never widens it.
	scope := record.Scope
	if scope == "" {
		scope = s.cfg.DefaultScope
	}
	var apiKey *models.APIKeyRecord
	if record.KeyID != "" {
		apiKey = &models.APIKeyRecord{KeyID: record.KeyID, CustomerID: record.CustomerID}
	}

	pair, accessToken, err := s.mintTokens(customer, apiKey, scope, record.SSOScope, now, record.AbsoluteExpiresAt)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := crypto.RandomToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	replacement := &models.RefreshTokenRecord{
		CustomerID:        record.CustomerID,
		AbsoluteExpiresAt: record.AbsoluteExpiresAt,
		IPAddress:         meta.IPAddress,
		KeyID:             record.KeyID,
		Scope:             scope,
		SSOScope:          record.SSOScope,
		CreatedAt:         now,
	}
	if err := s.sessions.SaveRefreshToken(ctx, crypto.SHA256Hex(rawRefresh), replacement, time.Until(record.AbsoluteExpiresAt)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := s.persistSession(ctx, customer.CustomerID, accessToken, meta, record.AbsoluteExpiresAt); err != nil {
		return nil, err
	}

	pair.RefreshToken = rawRefresh
	pair.RefreshExpiresIn = int64(time.Until(record.AbsoluteExpiresAt).Seconds())
	return pair, nil
}

// Verify checks an access token's signature and time claims, then the
// deny list. All failures collapse to ErrAuthenticationRequired detail.
func (s *TokenService) Verify(ctx context.Context, token string) (jwt.MapClaims, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", ErrAuthenticationRequired)
	}

	customerID, _ := claims["customerId"].(string)
	denied, err := s.sessions.IsDenied(ctx, customerID, crypto.SHA256Hex(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if denied {
		return nil, fmt.Errorf("%w: token revoked", ErrAuthenticationRequired)
	}
	return claims, nil
}

// Introspect implements RFC 7662. The caller must already have been
// authenticated with an API key (the anti-scanning rule in §2.1 of the
// RFC); clientID, when supplied, must name the caller's own key.
func (s *TokenService) Introspect(ctx context.Context, token, clientID string, callerKey *models.APIKeyRecord) (*IntrospectionResult, error) {
	if callerKey == nil {
		return nil, fmt.Errorf("%w: introspection requires an API key", ErrAuthenticationRequired)
	}
	if clientID != "" && clientID != callerKey.KeyID {
		return &IntrospectionResult{Active: false}, nil
	}

	claims, err := s.signer.Verify(token)
	if err != nil {
		return &IntrospectionResult{Active: false}, nil
	}

	customerID, _ := claims["customerId"].(string)
	denied, err := s.sessions.IsDenied(ctx, customerID, crypto.SHA256Hex(token))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if denied {
		return &IntrospectionResult{Active: false}, nil
	}

	result := &IntrospectionResult{
		Active:     true,
		CustomerID: customerID,
		TokenType:  "Bearer",
	}
	result.Sub, _ = claims["sub"].(string)
	result.ClientID, _ = claims["client_id"].(string)
	result.Scope, _ = claims["scope"].(string)
	result.Iss, _ = claims["iss"].(string)
	result.Aud, _ = claims["aud"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		result.Exp = exp.Unix()
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.Iat = iat.Unix()
	}
	return result, nil
}

// Revoke deny-lists a still-valid token for the remainder of its
// lifetime. Logout calls this; verification and introspection honor the
// entry immediately.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	claims, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, signing.ErrExpired) {
			// Nothing to revoke; natural expiry already covers it.
			return nil
		}
		return fmt.Errorf("%w: invalid token", ErrAuthenticationRequired)
	}

	customerID, _ := claims["customerId"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: token has no expiry", ErrAuthenticationRequired)
	}
	remaining := time.Until(exp.Time)
	if remaining <= 0 {
		return nil
	}

	now := time.Now().UTC()
	entry := &models.DenyListEntry{
		CustomerID: customerID,
		TokenHash:  crypto.SHA256Hex(token),
		RevokedAt:  now,
		ExpiresAt:  exp.Time,
		Reason:     "logout",
	}
	if err := s.sessions.AddDenyListEntry(ctx, entry, remaining); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	_ = s.sessions.DeleteSession(ctx, customerID)

	s.events.Publish(ctx, customerID, models.EventTokenRevoked, nil)
	return nil
}

// mintTokens builds and signs the access and ID tokens; the returned
// TokenPair has refresh fields left for the caller to fill.
func (s *TokenService) mintTokens(customer *models.Customer, apiKey *models.APIKeyRecord, scope string, ssoScope []string, now, absoluteExpiry time.Time) (*TokenPair, string, error) {
	accessExpiry := now.Add(s.cfg.AccessTokenTTL)

	keyID := ""
	if apiKey != nil {
		keyID = apiKey.KeyID
	}
	aud := customer.CustomerID
	clientID := customer.CustomerID
	if keyID != "" {
		aud = keyID
		clientID = keyID
	}

	csrf, err := crypto.RandomToken(16)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	accessClaims := jwt.MapClaims{
		"iss":          s.signer.Issuer(),
		"sub":          customer.CustomerID,
		"aud":          aud,
		"exp":          accessExpiry.Unix(),
		"iat":          now.Unix(),
		"jti":          uuid.New().String(),
		"scope":        scope,
		"customerId":   customer.CustomerID,
		"client_id":    clientID,
		"csrf":         csrf,
		"isSuperAdmin": customer.IsSuperAdmin,
		"displayName":  customer.DisplayName,
	}
	if keyID != "" {
		accessClaims["keyId"] = keyID
	}
	if len(ssoScope) > 0 {
		accessClaims["ssoScope"] = ssoScope
	}

	accessToken, err := s.signer.Sign(accessClaims)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	idClaims := jwt.MapClaims{
		"iss":         s.signer.Issuer(),
		"sub":         customer.CustomerID,
		"aud":         aud,
		"exp":         accessExpiry.Unix(),
		"iat":         now.Unix(),
		"at_hash":     atHash(accessToken),
		"customerId":  customer.CustomerID,
		"displayName": customer.DisplayName,
	}
	idToken, err := s.signer.Sign(idClaims)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	return &TokenPair{
		AccessToken: accessToken,
		IDToken:     idToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
		CSRF:        csrf,
	}, accessToken, nil
}

func (s *TokenService) persistSession(ctx context.Context, customerID, accessToken string, meta RequestMeta, absoluteExpiry time.Time) error {
	session := &models.Session{
		CustomerID:      customerID,
		AccessTokenHash: crypto.SHA256Hex(accessToken),
		IPAddress:       meta.IPAddress,
		UserAgent:       meta.UserAgent,
		Country:         meta.Country,
		Fingerprint:     meta.Fingerprint,
		CreatedAt:       time.Now().UTC(),
		ExpiresAt:       absoluteExpiry,
	}
	if err := s.sessions.SaveSession(ctx, session, time.Until(absoluteExpiry)); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return nil
}

// resolveSSOScope maps the presenting key's SSO configuration onto the
// set of key IDs allowed to reuse the session.
func resolveSSOScope(apiKey *models.APIKeyRecord) []string {
	if apiKey == nil {
		return nil
	}
	sso := apiKey.SSO
	if sso == nil || !sso.Enabled {
		return []string{apiKey.KeyID}
	}
	switch sso.IsolationMode {
	case models.SSOIsolationNone:
		return []string{"*"}
	case models.SSOIsolationSelective:
		return append([]string{apiKey.KeyID}, sso.AllowedKeyIDs...)
	default: // complete or unset
		return []string{apiKey.KeyID}
	}
}

// resolveScope intersects the requested scope with the key's allowed
// scopes; without a key the default scope applies.
func (s *TokenService) resolveScope(requested string, apiKey *models.APIKeyRecord) string {
	if apiKey == nil || len(apiKey.AllowedScopes) == 0 {
		if requested != "" {
			return requested
		}
		return s.cfg.DefaultScope
	}

	allowed := make(map[string]bool, len(apiKey.AllowedScopes))
	for _, sc := range apiKey.AllowedScopes {
		allowed[sc] = true
	}

	source := strings.Fields(requested)
	if requested == "" {
		source = apiKey.AllowedScopes
	}

	var granted []string
	for _, sc := range source {
		if allowed[sc] {
			granted = append(granted, sc)
		}
	}
	return strings.Join(granted, " ")
}

// atHash is the OIDC at_hash binding: base64url of the left half of the
// SHA-256 of the access token.
func atHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
