package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/util"
)

const (
	apiKeyListPrefix  = "apikey:cust:"
	apiKeyPointPrefix = "apikey:hash:"
)

// APIKeyStore persists each key record twice: in the owner's list index
// and under the hash of the trimmed raw secret for point lookup during
// verification. The two writes are independent read-modify-write
// sequences over the KV collaborator; concurrent updates to the same
// customer's list are last-writer-wins, an accepted property of the
// underlying store.
type APIKeyStore struct {
	kv KV
}

func NewAPIKeyStore(kv KV) *APIKeyStore {
	return &APIKeyStore{kv: kv}
}

// SaveRecord appends the record to the customer's list and writes the
// point index.
func (s *APIKeyStore) SaveRecord(ctx context.Context, secretHash string, record *models.APIKeyRecord) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	records, err := s.listRecords(ctx, record.CustomerID)
	if err != nil {
		return err
	}
	records = append(records, *record)

	if err := s.writeList(ctx, record.CustomerID, records); err != nil {
		return err
	}
	return s.writePoint(ctx, secretHash, record)
}

// UpdateRecord replaces the record in both indexes, matching by key ID in
// the list.
func (s *APIKeyStore) UpdateRecord(ctx context.Context, secretHash string, record *models.APIKeyRecord) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	records, err := s.listRecords(ctx, record.CustomerID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range records {
		if records[i].KeyID == record.KeyID {
			records[i] = *record
			replaced = true
			break
		}
	}
	if !replaced {
		return fmt.Errorf("api key %s not found in customer list", record.KeyID)
	}

	if err := s.writeList(ctx, record.CustomerID, records); err != nil {
		return err
	}
	if secretHash != "" {
		return s.writePoint(ctx, secretHash, record)
	}
	return nil
}

// GetByHash resolves the record for a raw-secret hash, or not-found.
func (s *APIKeyStore) GetByHash(ctx context.Context, secretHash string) (*models.APIKeyRecord, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := s.kv.Get(ctx, apiKeyPointPrefix+secretHash)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get api key by hash: %w", err)
	}

	var record models.APIKeyRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api key record: %w", err)
	}
	return &record, nil
}

// ListByCustomer returns the customer's key records, newest last. An
// absent list is an empty slice, not an error.
func (s *APIKeyStore) ListByCustomer(ctx context.Context, customerID string) ([]models.APIKeyRecord, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	return s.listRecords(ctx, customerID)
}

// GetByKeyID finds one record in the customer's list.
func (s *APIKeyStore) GetByKeyID(ctx context.Context, customerID, keyID string) (*models.APIKeyRecord, error) {
	records, err := s.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].KeyID == keyID {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("api key %s: %w", keyID, client.ErrKeyNotFound)
}

// TouchLastUsed bumps lastUsed in the point record and the list entry.
// Best-effort: a failed list write is logged, never propagated.
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, secretHash string, record *models.APIKeyRecord, at time.Time) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	record.LastUsed = at
	if err := s.writePoint(ctx, secretHash, record); err != nil {
		util.Warn("Failed to bump lastUsed on point record",
			zap.String("key_id", record.KeyID),
			zap.Error(err))
	}

	records, err := s.listRecords(ctx, record.CustomerID)
	if err != nil {
		util.Warn("Failed to load key list for lastUsed bump",
			zap.String("customer_id", record.CustomerID),
			zap.Error(err))
		return
	}
	for i := range records {
		if records[i].KeyID == record.KeyID {
			records[i].LastUsed = at
			break
		}
	}
	if err := s.writeList(ctx, record.CustomerID, records); err != nil {
		util.Warn("Failed to bump lastUsed on key list",
			zap.String("customer_id", record.CustomerID),
			zap.Error(err))
	}
}

func (s *APIKeyStore) listRecords(ctx context.Context, customerID string) ([]models.APIKeyRecord, error) {
	data, err := s.kv.Get(ctx, apiKeyListPrefix+customerID)
	if err != nil {
		if IsNotFound(err) {
			return []models.APIKeyRecord{}, nil
		}
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}

	var records []models.APIKeyRecord
	if err := json.Unmarshal([]byte(data), &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api key list: %w", err)
	}
	return records, nil
}

func (s *APIKeyStore) writeList(ctx context.Context, customerID string, records []models.APIKeyRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal api key list: %w", err)
	}
	if err := s.kv.Put(ctx, apiKeyListPrefix+customerID, string(data), 0); err != nil {
		util.Error("Failed to write api key list",
			zap.String("customer_id", customerID),
			zap.Error(err))
		return fmt.Errorf("failed to write api key list: %w", err)
	}
	return nil
}

func (s *APIKeyStore) writePoint(ctx context.Context, secretHash string, record *models.APIKeyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal api key record: %w", err)
	}
	if err := s.kv.Put(ctx, apiKeyPointPrefix+secretHash, string(data), 0); err != nil {
		util.Error("Failed to write api key point record",
			zap.String("key_id", record.KeyID),
			zap.Error(err))
		return fmt.Errorf("failed to write api key point record: %w", err)
	}
	return nil
}
