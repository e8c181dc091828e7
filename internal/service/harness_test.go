package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/models"
	redisrepo "otp-auth-service/internal/repository/redis"
	"otp-auth-service/internal/signing"
)

// memKV is an in-memory stand-in for the Redis collaborator with real
// TTL expiry driven by a controllable clock.
type memKV struct {
	mu    sync.Mutex
	data  map[string]memEntry
	clock func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

func newMemKV() *memKV {
	return &memKV{
		data:  make(map[string]memEntry),
		clock: time.Now,
	}
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", client.ErrKeyNotFound, key)
	}
	if !entry.expiresAt.IsZero() && m.clock().After(entry.expiresAt) {
		delete(m.data, key)
		return "", fmt.Errorf("%w: %s", client.ErrKeyNotFound, key)
	}
	return entry.value, nil
}

func (m *memKV) Put(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.clock().Add(ttl)
	}
	m.data[key] = entry
	return nil
}

func (m *memKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memKV) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[key]
	if !ok {
		return -2 * time.Second, nil
	}
	if entry.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return entry.expiresAt.Sub(m.clock()), nil
}

// recordingPublisher captures security events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	CustomerID string
	EventType  string
	Details    map[string]string
}

func (p *recordingPublisher) Publish(_ context.Context, customerID, eventType string, details map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{CustomerID: customerID, EventType: eventType, Details: details})
}

func (p *recordingPublisher) has(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

// testEnv wires real services over the in-memory KV.
type testEnv struct {
	kv       *memKV
	signer   *signing.Context
	events   *recordingPublisher
	cfg      *config.AuthConfig
	tokens   *TokenService
	keys     *APIKeyService
	requests *DataRequestService

	customers *redisrepo.CustomerStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	signer, err := signing.NewContext(signing.WithIssuer("otp-auth-service"))
	if err != nil {
		t.Fatalf("signing.NewContext: %v", err)
	}
	secrets, err := encryption.NewServerSecret(encryption.ServerSecretConfig{LocalSecret: "test-secret"}, nil)
	if err != nil {
		t.Fatalf("NewServerSecret: %v", err)
	}

	kv := newMemKV()
	events := &recordingPublisher{}
	cfg := &config.AuthConfig{
		Issuer:          "otp-auth-service",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 168 * time.Hour,
		OTPTTL:          5 * time.Minute,
		OTPMaxAttempts:  5,
		DataRequestTTL:  72 * time.Hour,
		DefaultScope:    "openid profile",
	}
	logger := zap.NewNop()

	customers := redisrepo.NewCustomerStore(kv)
	sessions := redisrepo.NewSessionStore(kv)
	keyStore := redisrepo.NewAPIKeyStore(kv)
	requestStore := redisrepo.NewDataRequestStore(kv)

	return &testEnv{
		kv:        kv,
		signer:    signer,
		events:    events,
		cfg:       cfg,
		tokens:    NewTokenService(signer, sessions, customers, events, cfg, logger),
		keys:      NewAPIKeyService(keyStore, customers, secrets, events, logger),
		requests:  NewDataRequestService(requestStore, customers, events, cfg, logger),
		customers: customers,
	}
}

func (e *testEnv) saveCustomer(t *testing.T, customerID, displayName string) *models.Customer {
	t.Helper()
	now := time.Now().UTC()
	customer := &models.Customer{
		CustomerID:  customerID,
		DisplayName: displayName,
		Status:      models.CustomerStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.customers.Save(context.Background(), customer, ""); err != nil {
		t.Fatalf("save customer: %v", err)
	}
	return customer
}

func (e *testEnv) issueFor(t *testing.T, customer *models.Customer) *TokenPair {
	t.Helper()
	pair, err := e.tokens.Issue(context.Background(), customer, RequestMeta{IPAddress: "203.0.113.7"}, nil, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return pair
}
