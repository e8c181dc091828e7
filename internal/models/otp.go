package models

import "time"

// OTPChallenge is the short-lived record backing one email login attempt.
// Only the SHA-256 of the code is stored; the plaintext goes to the email
// provider and nowhere else.
type OTPChallenge struct {
	EmailHash string    `json:"emailHash"`
	CodeHash  string    `json:"codeHash"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
}
