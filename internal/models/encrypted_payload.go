package models

// JWTEncryptedPayload is the output of the JWT-derived encryption
// primitive: AES-256-GCM ciphertext keyed by PBKDF2 over the SHA-256 of a
// live bearer token. TokenHash is stored so decryption with the wrong
// token fails fast instead of producing garbage.
type JWTEncryptedPayload struct {
	Algorithm string `json:"algorithm"`
	IV        string `json:"iv"`
	Salt      string `json:"salt"`
	TokenHash string `json:"tokenHash"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// TwoStageEncryptedPayload wraps a JWT-encrypted stage inside a second
// AES-GCM layer keyed by a request key. Both the owner's exact token and
// the request key are required to recover the plaintext.
type TwoStageEncryptedPayload struct {
	Stage1 *JWTEncryptedPayload `json:"stage1"`
	Stage2 *StageTwoEnvelope    `json:"stage2"`
}

// StageTwoEnvelope carries the outer ciphertext. KeyHash is the SHA-256 of
// the request key, stored to validate a supplied key without persisting it.
type StageTwoEnvelope struct {
	IV      string `json:"iv"`
	Salt    string `json:"salt"`
	KeyHash string `json:"keyHash"`
	Data    string `json:"data"`
}
