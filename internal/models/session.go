package models

import "time"

// Session is the single live session record for a customer, overwritten on
// every login and refresh. ExpiresAt tracks the refresh token's absolute
// expiry, not the short-lived access token's.
type Session struct {
	CustomerID      string    `json:"customerId"`
	AccessTokenHash string    `json:"accessTokenHash"`
	IPAddress       string    `json:"ipAddress"`
	UserAgent       string    `json:"userAgent"`
	Country         string    `json:"country"`
	Fingerprint     string    `json:"fingerprint"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// RefreshTokenRecord is stored under the SHA-256 hash of the opaque raw
// token. AbsoluteExpiresAt is fixed at login time and survives every
// rotation; rotation replaces the record, never the deadline.
type RefreshTokenRecord struct {
	CustomerID        string    `json:"customerId"`
	AbsoluteExpiresAt time.Time `json:"absoluteExpiresAt"`
	IPAddress         string    `json:"ipAddress"`
	KeyID             string    `json:"keyId,omitempty"`
	Scope             string    `json:"scope,omitempty"`
	SSOScope          []string  `json:"ssoScope,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// DenyListEntry marks a token revoked ahead of its natural expiry. The
// store keeps it only as long as the token would otherwise remain valid.
type DenyListEntry struct {
	CustomerID string    `json:"customerId"`
	TokenHash  string    `json:"tokenHash"`
	RevokedAt  time.Time `json:"revokedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Reason     string    `json:"reason,omitempty"`
}
