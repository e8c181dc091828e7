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

const otpPrefix = "otp:"

// OTPStore keeps short-lived login challenges keyed by email hash. The
// TTL is the challenge lifetime; there is no cleanup beyond expiry.
type OTPStore struct {
	kv KV
}

func NewOTPStore(kv KV) *OTPStore {
	return &OTPStore{kv: kv}
}

func (s *OTPStore) SaveChallenge(ctx context.Context, challenge *models.OTPChallenge, ttl time.Duration) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal otp challenge: %w", err)
	}
	if err := s.kv.Put(ctx, otpPrefix+challenge.EmailHash, string(data), ttl); err != nil {
		util.Error("Failed to save otp challenge", zap.Error(err))
		return fmt.Errorf("failed to save otp challenge: %w", err)
	}
	return nil
}

func (s *OTPStore) GetChallenge(ctx context.Context, emailHash string) (*models.OTPChallenge, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := s.kv.Get(ctx, otpPrefix+emailHash)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get otp challenge: %w", err)
	}

	var challenge models.OTPChallenge
	if err := json.Unmarshal([]byte(data), &challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal otp challenge: %w", err)
	}
	return &challenge, nil
}

// BumpAttempts rewrites the challenge with an incremented attempt count,
// preserving the original expiry.
func (s *OTPStore) BumpAttempts(ctx context.Context, challenge *models.OTPChallenge) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	challenge.Attempts++
	ttl := time.Until(challenge.ExpiresAt)
	if ttl <= 0 {
		return s.kv.Delete(ctx, otpPrefix+challenge.EmailHash)
	}
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal otp challenge: %w", err)
	}
	return s.kv.Put(ctx, otpPrefix+challenge.EmailHash, string(data), ttl)
}

func (s *OTPStore) DeleteChallenge(ctx context.Context, emailHash string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	return s.kv.Delete(ctx, otpPrefix+emailHash)
}
