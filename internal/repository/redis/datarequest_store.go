package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/util"
)

const (
	dataRequestPrefix          = "datarequest:"
	dataRequestTargetPrefix    = "datarequest:target:"
	dataRequestRequesterPrefix = "datarequest:requester:"

	// Request records outlive their approval window so rejected and
	// lapsed requests stay auditable for a while.
	dataRequestRetention = 30 * 24 * time.Hour
)

// DataRequestStore persists data requests and two per-customer ID
// indexes. Index maintenance is read-modify-write, last-writer-wins like
// the API-key list.
type DataRequestStore struct {
	kv KV
}

func NewDataRequestStore(kv KV) *DataRequestStore {
	return &DataRequestStore{kv: kv}
}

// Save writes the request record and ensures both index entries exist.
func (s *DataRequestStore) Save(ctx context.Context, req *models.DataRequest) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal data request: %w", err)
	}
	if err := s.kv.Put(ctx, dataRequestPrefix+req.RequestID, string(data), dataRequestRetention); err != nil {
		util.Error("Failed to save data request",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
		return fmt.Errorf("failed to save data request: %w", err)
	}

	if err := s.appendIndex(ctx, dataRequestTargetPrefix+req.TargetUserID, req.RequestID); err != nil {
		return err
	}
	return s.appendIndex(ctx, dataRequestRequesterPrefix+req.RequesterID, req.RequestID)
}

// Update rewrites the request record only; indexes never change after
// creation.
func (s *DataRequestStore) Update(ctx context.Context, req *models.DataRequest) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal data request: %w", err)
	}
	if err := s.kv.Put(ctx, dataRequestPrefix+req.RequestID, string(data), dataRequestRetention); err != nil {
		return fmt.Errorf("failed to update data request: %w", err)
	}
	return nil
}

func (s *DataRequestStore) Get(ctx context.Context, requestID string) (*models.DataRequest, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	data, err := s.kv.Get(ctx, dataRequestPrefix+requestID)
	if err != nil {
		if IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get data request: %w", err)
	}

	var req models.DataRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data request: %w", err)
	}
	return &req, nil
}

// ListByTarget returns all requests naming the customer as data owner.
func (s *DataRequestStore) ListByTarget(ctx context.Context, customerID string) ([]models.DataRequest, error) {
	return s.listByIndex(ctx, dataRequestTargetPrefix+customerID)
}

// ListByRequester returns all requests the customer has initiated.
func (s *DataRequestStore) ListByRequester(ctx context.Context, customerID string) ([]models.DataRequest, error) {
	return s.listByIndex(ctx, dataRequestRequesterPrefix+customerID)
}

func (s *DataRequestStore) listByIndex(ctx context.Context, indexKey string) ([]models.DataRequest, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	ids, err := s.readIndex(ctx, indexKey)
	if err != nil {
		return nil, err
	}

	requests := make([]models.DataRequest, 0, len(ids))
	for _, id := range ids {
		data, err := s.kv.Get(ctx, dataRequestPrefix+id)
		if err != nil {
			// Expired records leave dangling index entries; skip them.
			if IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("failed to get data request %s: %w", id, err)
		}
		var req models.DataRequest
		if err := json.Unmarshal([]byte(data), &req); err != nil {
			return nil, fmt.Errorf("failed to unmarshal data request %s: %w", id, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (s *DataRequestStore) readIndex(ctx context.Context, key string) ([]string, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read data-request index: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data-request index: %w", err)
	}
	return ids, nil
}

func (s *DataRequestStore) appendIndex(ctx context.Context, key, requestID string) error {
	ids, err := s.readIndex(ctx, key)
	if err != nil {
		return err
	}
	ids = append(ids, requestID)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal data-request index: %w", err)
	}
	if err := s.kv.Put(ctx, key, string(data), dataRequestRetention); err != nil {
		return fmt.Errorf("failed to write data-request index: %w", err)
	}
	return nil
}
