package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/util"
)

const (
	customerPrefix      = "customer:"
	customerEmailPrefix = "customer:email:"
)

// CustomerStore persists identity records. Email is stored only through
// the StoredCustomer codec and indexed by hash so OTP login can resolve a
// customer without the email ever appearing in a key or response.
type CustomerStore struct {
	kv KV
}

func NewCustomerStore(kv KV) *CustomerStore {
	return &CustomerStore{kv: kv}
}

// Save writes the customer record and the email-hash index. Customer
// records never expire; erasure is an explicit administrative act.
func (s *CustomerStore) Save(ctx context.Context, customer *models.Customer, emailHash string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := json.Marshal(models.FromCustomer(customer))
	if err != nil {
		return fmt.Errorf("failed to marshal customer: %w", err)
	}
	if err := s.kv.Put(ctx, customerPrefix+customer.CustomerID, string(data), 0); err != nil {
		util.Error("Failed to save customer",
			zap.String("customer_id", customer.CustomerID),
			zap.Error(err))
		return fmt.Errorf("failed to save customer: %w", err)
	}
	if emailHash != "" {
		if err := s.kv.Put(ctx, customerEmailPrefix+emailHash, customer.CustomerID, 0); err != nil {
			return fmt.Errorf("failed to write customer email index: %w", err)
		}
	}
	return nil
}

func (s *CustomerStore) Get(ctx context.Context, customerID string) (*models.Customer, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := s.kv.Get(ctx, customerPrefix+customerID)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	var stored models.StoredCustomer
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal customer: %w", err)
	}
	return stored.ToCustomer(), nil
}

// GetByEmailHash resolves a customer through the email index.
func (s *CustomerStore) GetByEmailHash(ctx context.Context, emailHash string) (*models.Customer, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	customerID, err := s.kv.Get(ctx, customerEmailPrefix+emailHash)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to resolve customer by email hash: %w", err)
	}
	return s.Get(ctx, customerID)
}
