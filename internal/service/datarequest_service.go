package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/crypto"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/models"
	redisrepo "otp-auth-service/internal/repository/redis"
	"otp-auth-service/internal/util"
)

const requestKeyBytes = 32

// DataRequestService runs the approval-gated sharing protocol: a
// requester asks for a data type, the owner approves with their live
// token, and decryption later requires both the owner's exact token and
// the request key minted at approval.
type DataRequestService struct {
	requests  *redisrepo.DataRequestStore
	customers *redisrepo.CustomerStore
	events    EventPublisher
	cfg       *config.AuthConfig
	logger    *zap.Logger
}

func NewDataRequestService(
	requests *redisrepo.DataRequestStore,
	customers *redisrepo.CustomerStore,
	events EventPublisher,
	cfg *config.AuthConfig,
	logger *zap.Logger,
) *DataRequestService {
	return &DataRequestService{
		requests:  requests,
		customers: customers,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

// Create opens a pending request against the target customer.
func (s *DataRequestService) Create(ctx context.Context, requesterID, targetUserID, dataType, reason string) (*models.DataRequest, error) {
	if requesterID == "" || targetUserID == "" {
		return nil, fmt.Errorf("%w: requester and target are required", ErrValidation)
	}
	if requesterID == targetUserID {
		return nil, fmt.Errorf("%w: cannot request data from yourself", ErrValidation)
	}
	if strings.TrimSpace(dataType) == "" {
		return nil, fmt.Errorf("%w: data type is required", ErrValidation)
	}

	if _, err := s.customers.Get(ctx, targetUserID); err != nil {
		if redisrepo.IsNotFound(err) {
			return nil, fmt.Errorf("%w: target customer", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	now := time.Now().UTC()
	req := &models.DataRequest{
		RequestID:    ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		RequesterID:  requesterID,
		TargetUserID: targetUserID,
		DataType:     strings.TrimSpace(dataType),
		Reason:       strings.TrimSpace(reason),
		Status:       models.DataRequestStatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.DataRequestTTL),
	}
	if err := s.requests.Save(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	util.Info("Data request created",
		zap.String("request_id", req.RequestID),
		zap.String("requester_id", requesterID),
		zap.String("target_id", targetUserID),
		zap.String("data_type", req.DataType))
	return req, nil
}

// Approve is the owner's decision. It two-stage-encrypts the shared data
// under the owner's live token and a freshly minted request key, stores
// only the key's hash, and returns the key once for out-of-band delivery
// to the requester. The key is never logged.
func (s *DataRequestService) Approve(ctx context.Context, requestID, ownerID, ownerToken string, data interface{}) (*models.DataRequest, string, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, "", err
	}
	if req.TargetUserID != ownerID {
		return nil, "", fmt.Errorf("%w: only the data owner can approve", ErrForbidden)
	}
	if req.Status != models.DataRequestStatusPending {
		return nil, "", fmt.Errorf("%w: request is %s", ErrConflict, req.Status)
	}
	if req.Lapsed(time.Now().UTC()) {
		s.markExpired(ctx, req)
		return nil, "", fmt.Errorf("%w: request has expired", ErrConflict)
	}
	if data == nil {
		return nil, "", fmt.Errorf("%w: approval data payload is required", ErrValidation)
	}

	requestKey, err := crypto.RandomToken(requestKeyBytes)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	payload, err := encryption.EncryptTwoStage(data, ownerToken, requestKey)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	now := time.Now().UTC()
	req.Status = models.DataRequestStatusApproved
	req.ApprovedAt = now
	req.KeyHash = crypto.SHA256Hex(requestKey)
	req.Payload = payload
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	s.events.Publish(ctx, ownerID, models.EventDataRequestApproved, map[string]string{
		"request_id":   requestID,
		"requester_id": req.RequesterID,
		"data_type":    req.DataType,
	})
	return req, requestKey, nil
}

// Reject is terminal.
func (s *DataRequestService) Reject(ctx context.Context, requestID, ownerID string) (*models.DataRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.TargetUserID != ownerID {
		return nil, fmt.Errorf("%w: only the data owner can reject", ErrForbidden)
	}
	if req.Status != models.DataRequestStatusPending {
		return nil, fmt.Errorf("%w: request is %s", ErrConflict, req.Status)
	}

	req.Status = models.DataRequestStatusRejected
	req.RejectedAt = time.Now().UTC()
	if err := s.requests.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	s.events.Publish(ctx, ownerID, models.EventDataRequestRejected, map[string]string{
		"request_id":   requestID,
		"requester_id": req.RequesterID,
	})
	return req, nil
}

// Decrypt recovers the shared plaintext for the requester. It needs the
// approved request, the owner's token from the approval flow, and the
// request key. A wrong request key surfaces as a key mismatch and
// nothing else.
func (s *DataRequestService) Decrypt(ctx context.Context, requestID, callerID, ownerToken, requestKey string) (json.RawMessage, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != callerID {
		return nil, fmt.Errorf("%w: only the requester can decrypt", ErrForbidden)
	}
	if req.Status != models.DataRequestStatusApproved {
		return nil, fmt.Errorf("%w: request is %s", ErrForbidden, req.Status)
	}
	if req.Lapsed(time.Now().UTC()) {
		s.markExpired(ctx, req)
		return nil, fmt.Errorf("%w: approval has expired", ErrForbidden)
	}

	plaintext, err := encryption.DecryptTwoStage(req.Payload, ownerToken, requestKey)
	if err != nil {
		if errors.Is(err, encryption.ErrRequestKeyMismatch) {
			return nil, fmt.Errorf("%w: request key mismatch", ErrForbidden)
		}
		// Token mismatch and GCM failures collapse to one opaque error.
		return nil, fmt.Errorf("%w: decryption failed", ErrForbidden)
	}

	s.events.Publish(ctx, callerID, models.EventDataRequestDecrypt, map[string]string{
		"request_id": requestID,
		"data_type":  req.DataType,
	})
	return plaintext, nil
}

// Get returns the request to either party; third parties see not-found.
func (s *DataRequestService) Get(ctx context.Context, requestID, callerID string) (*models.DataRequest, error) {
	req, err := s.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != callerID && req.TargetUserID != callerID {
		return nil, fmt.Errorf("%w: data request %s", ErrNotFound, requestID)
	}
	return req, nil
}

// ListForCustomer returns both directions: requests the customer made
// and requests naming them as owner.
func (s *DataRequestService) ListForCustomer(ctx context.Context, customerID string) (incoming, outgoing []models.DataRequest, err error) {
	incoming, err = s.requests.ListByTarget(ctx, customerID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	outgoing, err = s.requests.ListByRequester(ctx, customerID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return incoming, outgoing, nil
}

func (s *DataRequestService) getRequest(ctx context.Context, requestID string) (*models.DataRequest, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if redisrepo.IsNotFound(err) {
			return nil, fmt.Errorf("%w: data request %s", ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return req, nil
}

// markExpired records lapse on first observation; the state is terminal
// and never re-validated afterwards.
func (s *DataRequestService) markExpired(ctx context.Context, req *models.DataRequest) {
	req.Status = models.DataRequestStatusExpired
	if err := s.requests.Update(ctx, req); err != nil {
		util.Warn("Failed to mark data request expired",
			zap.String("request_id", req.RequestID),
			zap.Error(err))
	}
}
