package models

import "time"

const (
	CustomerStatusActive    = "active"
	CustomerStatusSuspended = "suspended"
)

// Customer is the canonical identity record. The customer ID is the sole
// identifier exposed anywhere; email is authentication-only and must never
// appear in a response body or token claim, hence `json:"-"`.
type Customer struct {
	CustomerID   string    `json:"customerId"`
	Email        string    `json:"-"`
	DisplayName  string    `json:"displayName"`
	Status       string    `json:"status"`
	IsSuperAdmin bool      `json:"isSuperAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsActive reports whether the customer may authenticate or use API keys.
func (c *Customer) IsActive() bool {
	return c.Status == CustomerStatusActive
}

// StoredCustomer is the storage codec for Customer. Email is persisted so
// OTP login can resolve it, but only through this type, which never leaves
// the repository layer.
type StoredCustomer struct {
	CustomerID   string    `json:"customerId"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Status       string    `json:"status"`
	IsSuperAdmin bool      `json:"isSuperAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (s *StoredCustomer) ToCustomer() *Customer {
	return &Customer{
		CustomerID:   s.CustomerID,
		Email:        s.Email,
		DisplayName:  s.DisplayName,
		Status:       s.Status,
		IsSuperAdmin: s.IsSuperAdmin,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func FromCustomer(c *Customer) *StoredCustomer {
	return &StoredCustomer{
		CustomerID:   c.CustomerID,
		Email:        c.Email,
		DisplayName:  c.DisplayName,
		Status:       c.Status,
		IsSuperAdmin: c.IsSuperAdmin,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
