package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/crypto"
	"otp-auth-service/internal/models"
	redisrepo "otp-auth-service/internal/repository/redis"
	"otp-auth-service/internal/util"
)

// EmailSender delivers OTP codes. Delivery is an external concern; the
// production implementation wraps a transactional email provider, and
// development uses the logging sender below (which logs that a send
// happened, never the code).
type EmailSender interface {
	SendOTP(ctx context.Context, email, code string) error
}

// LogEmailSender is the no-provider fallback.
type LogEmailSender struct{}

func (LogEmailSender) SendOTP(_ context.Context, _ string, _ string) error {
	util.Info("OTP email dispatched")
	return nil
}

// CustomerService owns the OTP login flow and customer administration.
// Customers are created on first successful OTP verification and are
// identified everywhere by their opaque customer ID only.
type CustomerService struct {
	customers *redisrepo.CustomerStore
	otps      *redisrepo.OTPStore
	profile   *client.ProfileClient
	email     EmailSender
	events    EventPublisher
	cfg       *config.AuthConfig
	logger    *zap.Logger
}

func NewCustomerService(
	customers *redisrepo.CustomerStore,
	otps *redisrepo.OTPStore,
	profile *client.ProfileClient,
	email EmailSender,
	events EventPublisher,
	cfg *config.AuthConfig,
	logger *zap.Logger,
) *CustomerService {
	return &CustomerService{
		customers: customers,
		otps:      otps,
		profile:   profile,
		email:     email,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

// RequestOTP stores a hashed challenge and asks the provider to deliver
// the code. The response is identical whether or not the email maps to an
// existing customer.
func (s *CustomerService) RequestOTP(ctx context.Context, email, ipAddress string) error {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: a valid email is required", ErrValidation)
	}

	code, err := generateOTPCode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	now := time.Now().UTC()
	challenge := &models.OTPChallenge{
		EmailHash: crypto.SHA256Hex(email),
		CodeHash:  crypto.SHA256Hex(code),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.OTPTTL),
		IPAddress: ipAddress,
	}
	if err := s.otps.SaveChallenge(ctx, challenge, s.cfg.OTPTTL); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := s.email.SendOTP(ctx, email, code); err != nil {
		util.Error("Failed to dispatch OTP email", zap.Error(err))
		return fmt.Errorf("%w: could not send code", ErrInternal)
	}
	return nil
}

// VerifyOTP checks the code and resolves or creates the customer. First
// successful verification creates the account, which requires a display
// name reserved through the profile collaborator.
func (s *CustomerService) VerifyOTP(ctx context.Context, email, code, displayName string) (*models.Customer, bool, error) {
	email = normalizeEmail(email)
	emailHash := crypto.SHA256Hex(email)

	challenge, err := s.otps.GetChallenge(ctx, emailHash)
	if err != nil {
		if redisrepo.IsNotFound(err) {
			return nil, false, fmt.Errorf("%w: invalid or expired code", ErrAuthenticationRequired)
		}
		return nil, false, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if challenge.Attempts >= s.cfg.OTPMaxAttempts {
		_ = s.otps.DeleteChallenge(ctx, emailHash)
		return nil, false, fmt.Errorf("%w: too many attempts", ErrRateLimited)
	}
	if !crypto.ConstantTimeEqual(crypto.SHA256Hex(code), challenge.CodeHash) {
		if err := s.otps.BumpAttempts(ctx, challenge); err != nil {
			util.Warn("Failed to bump OTP attempts", zap.Error(err))
		}
		return nil, false, fmt.Errorf("%w: invalid or expired code", ErrAuthenticationRequired)
	}
	_ = s.otps.DeleteChallenge(ctx, emailHash)

	customer, err := s.customers.GetByEmailHash(ctx, emailHash)
	if err == nil {
		if !customer.IsActive() {
			return nil, false, fmt.Errorf("%w: customer is not active", ErrForbidden)
		}
		return customer, false, nil
	}
	if !redisrepo.IsNotFound(err) {
		return nil, false, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	customer, err = s.createCustomer(ctx, email, displayName)
	if err != nil {
		return nil, false, err
	}
	return customer, true, nil
}

func (s *CustomerService) createCustomer(ctx context.Context, email, displayName string) (*models.Customer, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required to create an account", ErrValidation)
	}
	if util.ContainsSuspicious(displayName) {
		return nil, fmt.Errorf("%w: display name contains disallowed characters", ErrValidation)
	}

	now := time.Now().UTC()
	customer := &models.Customer{
		CustomerID:  "cust_" + uuid.New().String(),
		Email:       email,
		DisplayName: displayName,
		Status:      models.CustomerStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.profile.ReserveDisplayName(ctx, customer.CustomerID, displayName); err != nil {
		if errors.Is(err, client.ErrDisplayNameTaken) {
			return nil, fmt.Errorf("%w: display name already taken", ErrConflict)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	if err := s.customers.Save(ctx, customer, crypto.SHA256Hex(email)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	s.events.Publish(ctx, customer.CustomerID, models.EventCustomerCreated, nil)
	return customer, nil
}

// Get loads a customer by ID.
func (s *CustomerService) Get(ctx context.Context, customerID string) (*models.Customer, error) {
	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		if redisrepo.IsNotFound(err) {
			return nil, fmt.Errorf("%w: customer %s", ErrNotFound, customerID)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return customer, nil
}

// SetStatus suspends or reactivates a customer.
func (s *CustomerService) SetStatus(ctx context.Context, customerID, status string) (*models.Customer, error) {
	if status != models.CustomerStatusActive && status != models.CustomerStatusSuspended {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	customer, err := s.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.Status == status {
		return customer, nil
	}

	customer.Status = status
	customer.UpdatedAt = time.Now().UTC()
	if err := s.customers.Save(ctx, customer, ""); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	event := models.EventCustomerSuspended
	if status == models.CustomerStatusActive {
		event = models.EventCustomerActivated
	}
	s.events.Publish(ctx, customerID, event, nil)
	return customer, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateOTPCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
