package service

import (
	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/encryption"
	redisrepo "otp-auth-service/internal/repository/redis"
	"otp-auth-service/internal/signing"
)

// ServiceFactory creates and manages service instances.
type ServiceFactory struct {
	signer    *signing.Context
	sessions  *redisrepo.SessionStore
	customers *redisrepo.CustomerStore
	keys      *redisrepo.APIKeyStore
	requests  *redisrepo.DataRequestStore
	otps      *redisrepo.OTPStore
	secrets   *encryption.ServerSecret
	profile   *client.ProfileClient
	email     EmailSender
	events    EventPublisher
	cfg       *config.Config
	logger    *zap.Logger

	tokenService       *TokenService
	apiKeyService      *APIKeyService
	dataRequestService *DataRequestService
	customerService    *CustomerService
}

func NewServiceFactory(
	signer *signing.Context,
	kv redisrepo.KV,
	secrets *encryption.ServerSecret,
	profile *client.ProfileClient,
	email EmailSender,
	events EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		signer:    signer,
		sessions:  redisrepo.NewSessionStore(kv),
		customers: redisrepo.NewCustomerStore(kv),
		keys:      redisrepo.NewAPIKeyStore(kv),
		requests:  redisrepo.NewDataRequestStore(kv),
		otps:      redisrepo.NewOTPStore(kv),
		secrets:   secrets,
		profile:   profile,
		email:     email,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
}

// TokenService returns the token service instance (singleton).
func (f *ServiceFactory) TokenService() *TokenService {
	if f.tokenService == nil {
		f.tokenService = NewTokenService(f.signer, f.sessions, f.customers, f.events, &f.cfg.Auth, f.logger)
	}
	return f.tokenService
}

// APIKeyService returns the API key service instance (singleton).
func (f *ServiceFactory) APIKeyService() *APIKeyService {
	if f.apiKeyService == nil {
		f.apiKeyService = NewAPIKeyService(f.keys, f.customers, f.secrets, f.events, f.logger)
	}
	return f.apiKeyService
}

// DataRequestService returns the data request service instance (singleton).
func (f *ServiceFactory) DataRequestService() *DataRequestService {
	if f.dataRequestService == nil {
		f.dataRequestService = NewDataRequestService(f.requests, f.customers, f.events, &f.cfg.Auth, f.logger)
	}
	return f.dataRequestService
}

// CustomerService returns the customer service instance (singleton).
func (f *ServiceFactory) CustomerService() *CustomerService {
	if f.customerService == nil {
		f.customerService = NewCustomerService(f.customers, f.otps, f.profile, f.email, f.events, &f.cfg.Auth, f.logger)
	}
	return f.customerService
}
