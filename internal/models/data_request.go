package models

import "time"

const (
	DataRequestStatusPending  = "pending"
	DataRequestStatusApproved = "approved"
	DataRequestStatusRejected = "rejected"
	DataRequestStatusExpired  = "expired"
)

// DataRequest tracks one approval-gated share of sensitive data between
// two customers. The request key minted on approval is handed to the
// requester out of band; only its SHA-256 hash is kept here.
type DataRequest struct {
	RequestID    string                    `json:"requestId"`
	RequesterID  string                    `json:"requesterId"`
	TargetUserID string                    `json:"targetUserId"`
	DataType     string                    `json:"dataType"`
	Reason       string                    `json:"reason"`
	Status       string                    `json:"status"`
	CreatedAt    time.Time                 `json:"createdAt"`
	ApprovedAt   time.Time                 `json:"approvedAt,omitzero"`
	RejectedAt   time.Time                 `json:"rejectedAt,omitzero"`
	ExpiresAt    time.Time                 `json:"expiresAt"`
	KeyHash      string                    `json:"keyHash,omitempty"`
	Payload      *TwoStageEncryptedPayload `json:"payload,omitempty"`
}

// Lapsed reports whether an approved request has passed its expiry and is
// therefore inert for any further decryption.
func (r *DataRequest) Lapsed(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
