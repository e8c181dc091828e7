package encryption

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"otp-auth-service/internal/crypto"
	"otp-auth-service/internal/models"
)

// ErrRequestKeyMismatch is the only signal an incorrect requester ever
// receives from the two-stage scheme; nothing about stage one leaks.
var ErrRequestKeyMismatch = errors.New("request key does not match")

const minRequestKeyLength = 16

// EncryptTwoStage wraps data in two independent layers: stage one keyed by
// the data owner's bearer token, stage two keyed by the request key minted
// on approval. Recovering the plaintext requires both secrets.
func EncryptTwoStage(data interface{}, ownerToken, requestKey string) (*models.TwoStageEncryptedPayload, error) {
	if len(ownerToken) < minTokenLength {
		return nil, ErrTokenTooShort
	}
	if len(requestKey) < minRequestKeyLength {
		return nil, ErrRequestKeyShort
	}

	stage1, err := EncryptWithJWT(data, ownerToken)
	if err != nil {
		return nil, err
	}

	serialized, err := json.Marshal(stage1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEncryptionFailed, err)
	}

	salt, err := crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEncryptionFailed, err)
	}
	iv, err := crypto.RandomBytes(crypto.GCMNonceSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEncryptionFailed, err)
	}

	key := crypto.DeriveKey(requestKey, salt)
	ciphertext, err := crypto.SealGCM(key, iv, serialized)
	if err != nil {
		return nil, err
	}

	return &models.TwoStageEncryptedPayload{
		Stage1: stage1,
		Stage2: &models.StageTwoEnvelope{
			IV:      base64.StdEncoding.EncodeToString(iv),
			Salt:    base64.StdEncoding.EncodeToString(salt),
			KeyHash: crypto.SHA256Hex(requestKey),
			Data:    base64.StdEncoding.EncodeToString(ciphertext),
		},
	}, nil
}

// DecryptTwoStage verifies the request key against the stored hash, peels
// stage two, then decrypts the recovered stage-one payload with the
// owner's token.
func DecryptTwoStage(payload *models.TwoStageEncryptedPayload, ownerToken, requestKey string) (json.RawMessage, error) {
	if payload == nil || payload.Stage2 == nil {
		return nil, ErrInvalidPayload
	}
	if !crypto.ConstantTimeEqual(crypto.SHA256Hex(requestKey), payload.Stage2.KeyHash) {
		return nil, ErrRequestKeyMismatch
	}

	iv, salt, ciphertext, err := decodePayloadParts(payload.Stage2.IV, payload.Stage2.Salt, payload.Stage2.Data)
	if err != nil {
		return nil, err
	}

	key := crypto.DeriveKey(requestKey, salt)
	serialized, err := crypto.OpenGCM(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}

	var stage1 models.JWTEncryptedPayload
	if err := json.Unmarshal(serialized, &stage1); err != nil {
		return nil, ErrInvalidPayload
	}
	return DecryptWithJWT(&stage1, ownerToken)
}
