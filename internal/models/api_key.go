package models

import "time"

const (
	APIKeyStatusActive  = "active"
	APIKeyStatusRotated = "rotated"
	APIKeyStatusRevoked = "revoked"
)

// SSO isolation modes controlling which of a customer's API keys may reuse
// a session minted under this key.
const (
	SSOIsolationNone      = "none"
	SSOIsolationSelective = "selective"
	SSOIsolationComplete  = "complete"
)

// SSOConfig controls cross-key session reuse for one API key.
type SSOConfig struct {
	Enabled       bool     `json:"enabled"`
	IsolationMode string   `json:"isolationMode,omitempty"`
	AllowedKeyIDs []string `json:"allowedKeyIds,omitempty"`
}

// APIKeyRecord is persisted twice: appended to the owner's list index and
// stored alone under the hash of the trimmed raw secret for point lookup.
// EncryptedKey holds the raw secret AES-encrypted under the server secret;
// the plaintext is returned exactly once at creation and via reveal.
type APIKeyRecord struct {
	KeyID          string          `json:"keyId"`
	CustomerID     string          `json:"customerId"`
	SecretHash     string          `json:"secretHash"`
	Name           string          `json:"name"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastUsed       time.Time       `json:"lastUsed,omitzero"`
	Status         string          `json:"status"`
	EncryptedKey   *EncryptedField `json:"encryptedKey"`
	AllowedOrigins []string        `json:"allowedOrigins,omitempty"`
	AllowedScopes  []string        `json:"allowedScopes,omitempty"`
	SSO            *SSOConfig      `json:"sso,omitempty"`
	RotatedAt      time.Time       `json:"rotatedAt,omitzero"`
	ReplacedBy     string          `json:"replacedBy,omitempty"`
	RevokedAt      time.Time       `json:"revokedAt,omitzero"`
}

// EncryptedField is a server-secret AES-GCM ciphertext of a single
// sensitive value, optionally wrapped by a KMS data key.
type EncryptedField struct {
	EncryptedValue string    `json:"encrypted_value"`
	EncryptedDEK   string    `json:"encrypted_dek,omitempty"`
	KeyID          string    `json:"key_id,omitempty"`
	Version        string    `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
}
