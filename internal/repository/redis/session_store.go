package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/util"
)

const (
	sessionPrefix = "session:"
	refreshPrefix = "refresh:"
	denyPrefix    = "denylist:"
)

// SessionStore keeps one live session record per customer plus the
// refresh-token and deny-list records that bound its lifetime.
type SessionStore struct {
	kv KV
}

func NewSessionStore(kv KV) *SessionStore {
	return &SessionStore{kv: kv}
}

// SaveSession overwrites the customer's session record. TTL must track
// the refresh token's absolute expiry, not the access token's.
func (s *SessionStore) SaveSession(ctx context.Context, session *models.Session, ttl time.Duration) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.kv.Put(ctx, sessionPrefix+session.CustomerID, string(data), ttl); err != nil {
		util.Error("Failed to save session",
			zap.String("customer_id", session.CustomerID),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, customerID string) (*models.Session, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := s.kv.Get(ctx, sessionPrefix+customerID)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		util.Error("Failed to get session",
			zap.String("customer_id", customerID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) DeleteSession(ctx context.Context, customerID string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	return s.kv.Delete(ctx, sessionPrefix+customerID)
}

// SaveRefreshToken stores a refresh record under the hash of the raw
// token with TTL to its absolute expiry.
func (s *SessionStore) SaveRefreshToken(ctx context.Context, tokenHash string, record *models.RefreshTokenRecord, ttl time.Duration) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token record: %w", err)
	}
	if err := s.kv.Put(ctx, refreshPrefix+tokenHash, string(data), ttl); err != nil {
		util.Error("Failed to save refresh token",
			zap.String("customer_id", record.CustomerID),
			zap.Error(err))
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

func (s *SessionStore) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshTokenRecord, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := s.kv.Get(ctx, refreshPrefix+tokenHash)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var record models.RefreshTokenRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token record: %w", err)
	}
	return &record, nil
}

// DeleteRefreshToken invalidates a refresh record; rotation calls this
// before minting the replacement so the old token is single-use.
func (s *SessionStore) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	return s.kv.Delete(ctx, refreshPrefix+tokenHash)
}

// AddDenyListEntry records a revoked token for the remainder of its
// natural lifetime.
func (s *SessionStore) AddDenyListEntry(ctx context.Context, entry *models.DenyListEntry, ttl time.Duration) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal deny-list entry: %w", err)
	}
	key := denyPrefix + entry.CustomerID + ":" + entry.TokenHash
	if err := s.kv.Put(ctx, key, string(data), ttl); err != nil {
		util.Error("Failed to add deny-list entry",
			zap.String("customer_id", entry.CustomerID),
			zap.Error(err))
		return fmt.Errorf("failed to add deny-list entry: %w", err)
	}
	return nil
}

// IsDenied reports whether the (customer, token-hash) pair has been
// revoked ahead of natural expiry.
func (s *SessionStore) IsDenied(ctx context.Context, customerID, tokenHash string) (bool, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := s.kv.Get(ctx, denyPrefix+customerID+":"+tokenHash)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check deny list: %w", err)
	}
	return true, nil
}
