package models

import "time"

// Security-relevant event types published to the audit stream. Raw
// secrets, tokens, and emails never appear in event details.
const (
	EventAPIKeyCreated       = "api_key_created"
	EventAPIKeyRevealed      = "api_key_revealed"
	EventAPIKeyRotated       = "api_key_rotated"
	EventAPIKeyRevoked       = "api_key_revoked"
	EventAPIKeyOriginsUpdate = "api_key_origins_updated"
	EventTokenRevoked        = "token_revoked"
	EventDataRequestApproved = "data_request_approved"
	EventDataRequestRejected = "data_request_rejected"
	EventDataRequestDecrypt  = "data_request_decrypted"
	EventCustomerCreated     = "customer_created"
	EventCustomerSuspended   = "customer_suspended"
	EventCustomerActivated   = "customer_activated"
)

type SecurityEvent struct {
	EventID    string            `json:"event_id"`
	CustomerID string            `json:"customer_id"`
	EventType  string            `json:"event_type"`
	EventTime  time.Time         `json:"event_time"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}
