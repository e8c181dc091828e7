package encryption

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"otp-auth-service/internal/crypto"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"
)

// ServerSecret encrypts single sensitive values (raw API-key secrets)
// under a server-held secret using envelope encryption: each value gets a
// fresh data key, wrapped either by AWS KMS or, when KMS is disabled, by
// an AES key derived from the configured local secret.
type ServerSecret struct {
	kmsClient *kms.Client
	kmsKeyID  string
	useKMS    bool
	localKey  []byte
	keyCache  sync.Map // wrapped DEK (b64) -> plaintext DEK
}

type ServerSecretConfig struct {
	KMSEnabled bool
	KMSKeyID   string
	// LocalSecret is required when KMS is disabled; any non-empty string,
	// stretched through PBKDF2 into the wrapping key.
	LocalSecret string
}

func NewServerSecret(cfg ServerSecretConfig, kmsClient *kms.Client) (*ServerSecret, error) {
	s := &ServerSecret{
		kmsClient: kmsClient,
		kmsKeyID:  cfg.KMSKeyID,
		useKMS:    cfg.KMSEnabled && kmsClient != nil,
	}
	if !s.useKMS {
		if cfg.LocalSecret == "" {
			return nil, fmt.Errorf("server secret required when KMS is disabled")
		}
		// Static salt keeps the wrapping key stable across restarts; the
		// secret itself is the only input that must stay private.
		s.localKey = crypto.DeriveKey(cfg.LocalSecret, []byte("otp-auth-service/server-secret/v1"))
	}
	return s, nil
}

// EncryptSecret seals plaintext under a fresh data key and returns the
// ciphertext together with the wrapped key.
func (s *ServerSecret) EncryptSecret(ctx context.Context, plaintext string) (*models.EncryptedField, error) {
	dek, wrapped, keyID, err := s.generateDataKey(ctx)
	if err != nil {
		return nil, err
	}

	iv, err := crypto.RandomBytes(crypto.GCMNonceSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEncryptionFailed, err)
	}
	ciphertext, err := crypto.SealGCM(dek, iv, []byte(plaintext))
	if err != nil {
		return nil, err
	}

	wrappedB64 := base64.StdEncoding.EncodeToString(wrapped)
	s.keyCache.Store(wrappedB64, dek)

	return &models.EncryptedField{
		EncryptedValue: base64.StdEncoding.EncodeToString(append(iv, ciphertext...)),
		EncryptedDEK:   wrappedB64,
		KeyID:          keyID,
		Version:        "v1",
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// DecryptSecret reverses EncryptSecret. Unwrapped data keys are cached so
// repeated list calls do not round-trip KMS per entry.
func (s *ServerSecret) DecryptSecret(ctx context.Context, field *models.EncryptedField) (string, error) {
	if field == nil {
		return "", fmt.Errorf("%w: missing encrypted field", crypto.ErrDecryptionFailed)
	}

	var dek []byte
	if cached, ok := s.keyCache.Load(field.EncryptedDEK); ok {
		dek = cached.([]byte)
	} else {
		wrapped, err := base64.StdEncoding.DecodeString(field.EncryptedDEK)
		if err != nil {
			return "", fmt.Errorf("%w: invalid DEK encoding", crypto.ErrDecryptionFailed)
		}
		dek, err = s.unwrapDataKey(ctx, wrapped)
		if err != nil {
			return "", err
		}
		s.keyCache.Store(field.EncryptedDEK, dek)
	}

	raw, err := base64.StdEncoding.DecodeString(field.EncryptedValue)
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", crypto.ErrDecryptionFailed)
	}
	nonceSize := crypto.GCMNonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", crypto.ErrDecryptionFailed)
	}
	plaintext, err := crypto.OpenGCM(dek, raw[:nonceSize], raw[nonceSize:])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *ServerSecret) generateDataKey(ctx context.Context) (dek, wrapped []byte, keyID string, err error) {
	if s.useKMS {
		out, err := s.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:   aws.String(s.kmsKeyID),
			KeySpec: types.DataKeySpecAes256,
		})
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to generate data key: %w", err)
		}
		return out.Plaintext, out.CiphertextBlob, s.kmsKeyID, nil
	}

	dek, err = crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", crypto.ErrEncryptionFailed, err)
	}
	iv, err := crypto.RandomBytes(crypto.GCMNonceSize())
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %v", crypto.ErrEncryptionFailed, err)
	}
	sealed, err := crypto.SealGCM(s.localKey, iv, dek)
	if err != nil {
		return nil, nil, "", err
	}
	return dek, append(iv, sealed...), "local", nil
}

func (s *ServerSecret) unwrapDataKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	if s.useKMS {
		out, err := s.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", crypto.ErrDecryptionFailed, err)
		}
		return out.Plaintext, nil
	}

	nonceSize := crypto.GCMNonceSize()
	if len(wrapped) < nonceSize {
		return nil, fmt.Errorf("%w: wrapped key too short", crypto.ErrDecryptionFailed)
	}
	return crypto.OpenGCM(s.localKey, wrapped[:nonceSize], wrapped[nonceSize:])
}

// ClearCache drops all cached data keys.
func (s *ServerSecret) ClearCache() {
	s.keyCache.Range(func(key, _ interface{}) bool {
		s.keyCache.Delete(key)
		return true
	})
	util.Debug("Server secret DEK cache cleared", zap.Bool("kms", s.useKMS))
}
