package encryption

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"otp-auth-service/internal/crypto"
	"otp-auth-service/internal/models"
)

var (
	ErrTokenMismatch   = errors.New("token does not match encryption token")
	ErrTokenTooShort   = errors.New("token too short for key derivation")
	ErrInvalidPayload  = errors.New("invalid encrypted payload")
	ErrRequestKeyShort = errors.New("request key too short")
)

const (
	algorithmName = "AES-256-GCM"

	// A compact JWS is never shorter than this; anything smaller is a
	// caller bug, not key material.
	minTokenLength = 16
)

// EncryptWithJWT encrypts arbitrary JSON-serializable data using a live
// bearer token as key material. The SHA-256 of the token is stored in the
// payload so a wrong-token decryption fails fast with ErrTokenMismatch
// instead of producing garbage.
func EncryptWithJWT(data interface{}, token string) (*models.JWTEncryptedPayload, error) {
	if len(token) < minTokenLength {
		return nil, ErrTokenTooShort
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEncryptionFailed, err)
	}

	tokenHash := crypto.SHA256Hex(token)

	salt, err := crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEncryptionFailed, err)
	}
	iv, err := crypto.RandomBytes(crypto.GCMNonceSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrEncryptionFailed, err)
	}

	key := crypto.DeriveKey(tokenHash, salt)
	ciphertext, err := crypto.SealGCM(key, iv, plaintext)
	if err != nil {
		return nil, err
	}

	return &models.JWTEncryptedPayload{
		Algorithm: algorithmName,
		IV:        base64.StdEncoding.EncodeToString(iv),
		Salt:      base64.StdEncoding.EncodeToString(salt),
		TokenHash: tokenHash,
		Data:      base64.StdEncoding.EncodeToString(ciphertext),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// DecryptWithJWT reverses EncryptWithJWT. The supplied token must be the
// exact token used at encryption time.
func DecryptWithJWT(payload *models.JWTEncryptedPayload, token string) (json.RawMessage, error) {
	if payload == nil || payload.Data == "" {
		return nil, ErrInvalidPayload
	}
	if !crypto.ConstantTimeEqual(crypto.SHA256Hex(token), payload.TokenHash) {
		return nil, ErrTokenMismatch
	}

	iv, salt, ciphertext, err := decodePayloadParts(payload.IV, payload.Salt, payload.Data)
	if err != nil {
		return nil, err
	}

	key := crypto.DeriveKey(payload.TokenHash, salt)
	plaintext, err := crypto.OpenGCM(key, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(plaintext), nil
}

func decodePayloadParts(ivB64, saltB64, dataB64 string) (iv, salt, ciphertext []byte, err error) {
	if iv, err = base64.StdEncoding.DecodeString(ivB64); err != nil {
		return nil, nil, nil, ErrInvalidPayload
	}
	if salt, err = base64.StdEncoding.DecodeString(saltB64); err != nil {
		return nil, nil, nil, ErrInvalidPayload
	}
	if ciphertext, err = base64.StdEncoding.DecodeString(dataB64); err != nil {
		return nil, nil, nil, ErrInvalidPayload
	}
	return iv, salt, ciphertext, nil
}
