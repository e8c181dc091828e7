package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otp-auth-service/internal/crypto"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/models"
	redisrepo "otp-auth-service/internal/repository/redis"
	"otp-auth-service/internal/util"
)

const (
	apiKeyPrefix      = "otp_live_sk_"
	apiKeySecretBytes = 32
	listDecryptLimit  = 8
)

// RevealMessage is surfaced verbatim with every plaintext reveal so the
// one-time nature of the response is unambiguous.
const RevealMessage = "This key will not be shown again. Store it securely."

// RotationGraceMessage documents the advertised grace window. Note the
// verification logic checks status == active only, so a rotated key in
// fact stops verifying immediately; the discrepancy is a recorded open
// question, preserved rather than fixed.
const RotationGraceMessage = "The previous key remains usable for 7 days."

// CreatedAPIKey carries the one-time plaintext secret back to the caller.
type CreatedAPIKey struct {
	Key     *APIKeyView `json:"key"`
	Secret  string      `json:"secret"`
	Message string      `json:"message"`
}

// APIKeyView is the list/detail projection. ApiKey, when present, is the
// raw secret re-encrypted under the caller's live JWT; it degrades to
// null per entry on decryption failure.
type APIKeyView struct {
	KeyID          string                      `json:"keyId"`
	Name           string                      `json:"name"`
	CreatedAt      time.Time                   `json:"createdAt"`
	LastUsed       time.Time                   `json:"lastUsed,omitzero"`
	Status         string                      `json:"status"`
	ApiKey         *models.JWTEncryptedPayload `json:"apiKey"`
	AllowedOrigins []string                    `json:"allowedOrigins,omitempty"`
	AllowedScopes  []string                    `json:"allowedScopes,omitempty"`
	RotatedAt      time.Time                   `json:"rotatedAt,omitzero"`
	ReplacedBy     string                      `json:"replacedBy,omitempty"`
	RevokedAt      time.Time                   `json:"revokedAt,omitzero"`
}

// APIKeyService owns the double-encrypted API-key lifecycle: the raw
// secret is stored encrypted under the server secret, and re-encrypted
// under the caller's JWT before leaving the service.
type APIKeyService struct {
	keys      *redisrepo.APIKeyStore
	customers *redisrepo.CustomerStore
	secrets   *encryption.ServerSecret
	events    EventPublisher
	logger    *zap.Logger
}

func NewAPIKeyService(
	keys *redisrepo.APIKeyStore,
	customers *redisrepo.CustomerStore,
	secrets *encryption.ServerSecret,
	events EventPublisher,
	logger *zap.Logger,
) *APIKeyService {
	return &APIKeyService{
		keys:      keys,
		customers: customers,
		secrets:   secrets,
		events:    events,
		logger:    logger,
	}
}

// Create mints a new key for the customer. The trimmed secret is hashed
// for lookup and encrypted for storage; the plaintext is returned exactly
// once. Trimming must be applied identically at every hash site or
// verification silently breaks.
func (s *APIKeyService) Create(ctx context.Context, customerID, name string, allowedOrigins, allowedScopes []string) (*CreatedAPIKey, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: missing customer id", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: key name is required", ErrValidation)
	}
	if err := validateOrigins(allowedOrigins); err != nil {
		return nil, err
	}

	random, err := crypto.RandomToken(apiKeySecretBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	rawSecret := apiKeyPrefix + random
	trimmed := strings.TrimSpace(rawSecret)
	secretHash := crypto.SHA256Hex(trimmed)

	encrypted, err := s.secrets.EncryptSecret(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	record := &models.APIKeyRecord{
		KeyID:          uuid.New().String(),
		CustomerID:     customerID,
		SecretHash:     secretHash,
		Name:           strings.TrimSpace(name),
		CreatedAt:      time.Now().UTC(),
		Status:         models.APIKeyStatusActive,
		EncryptedKey:   encrypted,
		AllowedOrigins: allowedOrigins,
		AllowedScopes:  allowedScopes,
	}
	if err := s.keys.SaveRecord(ctx, secretHash, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	s.events.Publish(ctx, customerID, models.EventAPIKeyCreated, map[string]string{
		"key_id": record.KeyID,
		"name":   record.Name,
	})

	return &CreatedAPIKey{
		Key:     viewOf(record, nil),
		Secret:  rawSecret,
		Message: RevealMessage,
	}, nil
}

// Verify resolves a presented raw key to its record. The key must carry
// the service prefix, hash to a known record, be active, and belong to an
// active customer. lastUsed is bumped best-effort in both indexes.
func (s *APIKeyService) Verify(ctx context.Context, rawKey string) (*models.APIKeyRecord, error) {
	trimmed := strings.TrimSpace(rawKey)
	if trimmed == "" || !strings.HasPrefix(trimmed, apiKeyPrefix) {
		return nil, fmt.Errorf("%w: invalid api key", ErrAuthenticationRequired)
	}

	secretHash := crypto.SHA256Hex(trimmed)
	record, err := s.keys.GetByHash(ctx, secretHash)
	if err != nil {
		if redisrepo.IsNotFound(err) {
			return nil, fmt.Errorf("%w: invalid api key", ErrAuthenticationRequired)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if record.Status != models.APIKeyStatusActive {
		return nil, fmt.Errorf("%w: api key is %s", ErrAuthenticationRequired, record.Status)
	}

	customer, err := s.customers.Get(ctx, record.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid api key", ErrAuthenticationRequired)
	}
	if !customer.IsActive() {
		return nil, fmt.Errorf("%w: customer is not active", ErrForbidden)
	}

	s.keys.TouchLastUsed(ctx, secretHash, record, time.Now().UTC())
	return record, nil
}

// List returns the customer's keys with each stored secret decrypted and
// re-encrypted under the caller's live JWT. A failure on one entry
// degrades that entry's apiKey to null instead of failing the call.
func (s *APIKeyService) List(ctx context.Context, customerID, callerJWT string) ([]APIKeyView, error) {
	records, err := s.keys.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	views := make([]APIKeyView, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listDecryptLimit)
	for i := range records {
		g.Go(func() error {
			record := &records[i]
			reencrypted := s.reencryptForCaller(gctx, record, callerJWT)
			views[i] = *viewOf(record, reencrypted)
			return nil
		})
	}
	// Workers never return errors; degradation is per entry.
	_ = g.Wait()
	return views, nil
}

func (s *APIKeyService) reencryptForCaller(ctx context.Context, record *models.APIKeyRecord, callerJWT string) *models.JWTEncryptedPayload {
	plaintext, err := s.secrets.DecryptSecret(ctx, record.EncryptedKey)
	if err != nil {
		util.Warn("Failed to decrypt stored api key secret",
			zap.String("key_id", record.KeyID),
			zap.Error(err))
		return nil
	}
	payload, err := encryption.EncryptWithJWT(plaintext, callerJWT)
	if err != nil {
		util.Warn("Failed to re-encrypt api key under caller JWT",
			zap.String("key_id", record.KeyID),
			zap.Error(err))
		return nil
	}
	return payload
}

// Reveal returns the plaintext secret once. A JWT is mandatory; the
// reveal is a logged security event.
func (s *APIKeyService) Reveal(ctx context.Context, customerID, keyID, callerJWT string) (string, string, error) {
	if callerJWT == "" {
		return "", "", fmt.Errorf("%w: reveal requires a valid token", ErrAuthenticationRequired)
	}

	record, err := s.getOwnedKey(ctx, customerID, keyID)
	if err != nil {
		return "", "", err
	}

	plaintext, err := s.secrets.DecryptSecret(ctx, record.EncryptedKey)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	s.events.Publish(ctx, customerID, models.EventAPIKeyRevealed, map[string]string{
		"key_id": keyID,
	})
	return strings.TrimSpace(plaintext), RevealMessage, nil
}

// Rotate creates a replacement key and marks the old record rotated. The
// old record keeps both index entries so it stays queryable; whether it
// should also keep verifying for the advertised 7-day window is an open
// product question — current behavior stops it immediately because
// Verify requires status == active.
func (s *APIKeyService) Rotate(ctx context.Context, customerID, keyID string) (*CreatedAPIKey, error) {
	old, err := s.getOwnedKey(ctx, customerID, keyID)
	if err != nil {
		return nil, err
	}
	if old.Status != models.APIKeyStatusActive {
		return nil, fmt.Errorf("%w: only active keys can be rotated", ErrConflict)
	}

	created, err := s.Create(ctx, customerID, old.Name, old.AllowedOrigins, old.AllowedScopes)
	if err != nil {
		return nil, err
	}

	old.Status = models.APIKeyStatusRotated
	old.RotatedAt = time.Now().UTC()
	old.ReplacedBy = created.Key.KeyID
	if err := s.keys.UpdateRecord(ctx, old.SecretHash, old); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	s.events.Publish(ctx, customerID, models.EventAPIKeyRotated, map[string]string{
		"key_id":      keyID,
		"replaced_by": created.Key.KeyID,
	})

	created.Message = RevealMessage + " " + RotationGraceMessage
	return created, nil
}

// Revoke marks the key revoked; verification rejects it immediately.
func (s *APIKeyService) Revoke(ctx context.Context, customerID, keyID string) error {
	record, err := s.getOwnedKey(ctx, customerID, keyID)
	if err != nil {
		return err
	}
	if record.Status == models.APIKeyStatusRevoked {
		return fmt.Errorf("%w: key already revoked", ErrConflict)
	}

	record.Status = models.APIKeyStatusRevoked
	record.RevokedAt = time.Now().UTC()
	if err := s.keys.UpdateRecord(ctx, record.SecretHash, record); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	s.events.Publish(ctx, customerID, models.EventAPIKeyRevoked, map[string]string{
		"key_id": keyID,
	})
	return nil
}

// UpdateOrigins replaces a key's allowed origins and, when supplied,
// scopes. The first invalid origin fails the whole call with a
// descriptive error.
func (s *APIKeyService) UpdateOrigins(ctx context.Context, customerID, keyID string, origins, scopes []string) (*APIKeyView, error) {
	if err := validateOrigins(origins); err != nil {
		return nil, err
	}

	record, err := s.getOwnedKey(ctx, customerID, keyID)
	if err != nil {
		return nil, err
	}

	record.AllowedOrigins = origins
	if scopes != nil {
		record.AllowedScopes = scopes
	}
	if err := s.keys.UpdateRecord(ctx, record.SecretHash, record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	s.events.Publish(ctx, customerID, models.EventAPIKeyOriginsUpdate, map[string]string{
		"key_id":  keyID,
		"origins": strings.Join(origins, ","),
	})
	return viewOf(record, nil), nil
}

func (s *APIKeyService) getOwnedKey(ctx context.Context, customerID, keyID string) (*models.APIKeyRecord, error) {
	record, err := s.keys.GetByKeyID(ctx, customerID, keyID)
	if err != nil {
		if redisrepo.IsNotFound(err) {
			return nil, fmt.Errorf("%w: api key %s", ErrNotFound, keyID)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return record, nil
}

// validateOrigins accepts http://, https://, and the literal string
// "null" (the Origin header value from file:// contexts).
func validateOrigins(origins []string) error {
	for _, origin := range origins {
		if origin == "null" {
			continue
		}
		if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
			continue
		}
		return fmt.Errorf("%w: invalid origin %q: must start with http://, https://, or be the literal \"null\"", ErrValidation, origin)
	}
	return nil
}

func viewOf(record *models.APIKeyRecord, reencrypted *models.JWTEncryptedPayload) *APIKeyView {
	return &APIKeyView{
		KeyID:          record.KeyID,
		Name:           record.Name,
		CreatedAt:      record.CreatedAt,
		LastUsed:       record.LastUsed,
		Status:         record.Status,
		ApiKey:         reencrypted,
		AllowedOrigins: record.AllowedOrigins,
		AllowedScopes:  record.AllowedScopes,
		RotatedAt:      record.RotatedAt,
		ReplacedBy:     record.ReplacedBy,
		RevokedAt:      record.RevokedAt,
	}
}
