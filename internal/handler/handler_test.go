package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/encryption"
	"otp-auth-service/internal/models"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/signing"
)

// memKV is the in-memory Redis stand-in used for end-to-end handler
// tests.
type memKV struct {
	mu   sync.Mutex
	data map[string]memEntry
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]memEntry)}
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", client.ErrKeyNotFound, key)
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
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
		entry.expiresAt = time.Now().Add(ttl)
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
	return time.Until(entry.expiresAt), nil
}

type captureEmailSender struct {
	mu       sync.Mutex
	lastCode string
}

func (s *captureEmailSender) SendOTP(_ context.Context, _ string, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCode = code
	return nil
}

func (s *captureEmailSender) code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode
}

type testServer struct {
	srv     *httptest.Server
	factory *service.ServiceFactory
	email   *captureEmailSender
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	signer, err := signing.NewContext(signing.WithIssuer("otp-auth-service"))
	if err != nil {
		t.Fatalf("signing.NewContext: %v", err)
	}
	secrets, err := encryption.NewServerSecret(encryption.ServerSecretConfig{LocalSecret: "test-secret"}, nil)
	if err != nil {
		t.Fatalf("NewServerSecret: %v", err)
	}

	profileSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(profileSrv.Close)

	cfg := &config.Config{
		Auth: config.AuthConfig{
			Issuer:          "otp-auth-service",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 168 * time.Hour,
			OTPTTL:          5 * time.Minute,
			OTPMaxAttempts:  5,
			DataRequestTTL:  72 * time.Hour,
			DefaultScope:    "openid profile",
		},
		Profile: config.ProfileConfig{BaseURL: profileSrv.URL, Timeout: 2 * time.Second},
	}

	email := &captureEmailSender{}
	profile := client.NewProfileClient(cfg)
	factory := service.NewServiceFactory(
		signer,
		newMemKV(),
		secrets,
		profile,
		email,
		service.LogEventPublisher{},
		cfg,
		zap.NewNop(),
	)

	router := NewRouter(RouterDeps{
		Auth:         NewAuthHandler(factory, signer, cfg),
		APIKeys:      NewAPIKeyHandler(factory),
		DataRequests: NewDataRequestHandler(factory),
		Customers:    NewCustomerHandler(factory),
		TLSEnabled:   false,
		Logger:       zap.NewNop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, factory: factory, email: email}
}

func (ts *testServer) post(t *testing.T, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, headers)
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return resp, decoded
}

// login runs the full OTP flow and returns the customer ID and token
// pair fields from the response.
func (ts *testServer) login(t *testing.T, email, displayName string) (customerID, accessToken, refreshToken string) {
	t.Helper()

	resp, _ := ts.post(t, "/auth/request-otp", map[string]string{"email": email}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-otp: status %d", resp.StatusCode)
	}

	resp, body := ts.post(t, "/auth/verify-otp", map[string]string{
		"email":       email,
		"code":        ts.email.code(),
		"displayName": displayName,
	}, nil)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		t.Fatalf("verify-otp: status %d body %v", resp.StatusCode, body)
	}

	data := body["data"].(map[string]interface{})
	customer := data["customer"].(map[string]interface{})
	tokens := data["tokens"].(map[string]interface{})
	return customer["customerId"].(string), tokens["access_token"].(string), tokens["refresh_token"].(string)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestJWKSEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "max-age=3600") {
		t.Fatalf("unexpected Cache-Control %q", cc)
	}
	keys, ok := body["keys"].([]interface{})
	if !ok || len(keys) == 0 {
		t.Fatalf("expected a non-empty key set, got %v", body)
	}
	key := keys[0].(map[string]interface{})
	if key["kty"] != "RSA" || key["alg"] != "RS256" {
		t.Fatalf("unexpected key %v", key)
	}
}

func TestLoginFlow(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/auth/request-otp", map[string]string{"email": "alice@example.com"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request-otp: status %d", resp.StatusCode)
	}

	resp, body := ts.post(t, "/auth/verify-otp", map[string]string{
		"email":       "alice@example.com",
		"code":        ts.email.code(),
		"displayName": "Alice",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("verify-otp: status %d body %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}

	// The login response must never echo the email address.
	raw, _ := json.Marshal(body)
	if strings.Contains(string(raw), "alice@example.com") {
		t.Fatal("response leaks the email address")
	}

	var gotAccess, gotRefresh bool
	for _, c := range resp.Cookies() {
		switch c.Name {
		case "access_token":
			gotAccess = c.HttpOnly
		case "refresh_token":
			gotRefresh = c.HttpOnly && c.Path == "/auth/refresh"
		}
	}
	if !gotAccess || !gotRefresh {
		t.Fatalf("missing session cookies: access=%v refresh=%v", gotAccess, gotRefresh)
	}
}

func TestVerifyOTPWrongCode(t *testing.T) {
	ts := newTestServer(t)

	if resp, _ := ts.post(t, "/auth/request-otp", map[string]string{"email": "alice@example.com"}, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("request-otp: status %d", resp.StatusCode)
	}
	resp, body := ts.post(t, "/auth/verify-otp", map[string]string{
		"email": "alice@example.com",
		"code":  "000000",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	if body["success"] != false {
		t.Fatalf("expected error envelope, got %v", body)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	ts := newTestServer(t)
	_, _, refreshToken := ts.login(t, "alice@example.com", "Alice")

	resp, body := ts.post(t, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status %d body %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]interface{})
	if data["refresh_token"] == refreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The original token is single-use.
	resp, _ = ts.post(t, "/auth/refresh", map[string]string{"refresh_token": refreshToken}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on reuse, got %d", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t)
	_, accessToken, _ := ts.login(t, "alice@example.com", "Alice")

	resp, _ := ts.post(t, "/auth/logout", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}

	resp, _ = ts.post(t, "/auth/logout", nil, bearer(accessToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}

	// The revoked token no longer opens protected routes.
	resp, _ = ts.do(t, http.MethodGet, "/customer/data-requests", nil, bearer(accessToken))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/customer/data-requests", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/customer/data-requests", nil, bearer("not.a.jwt"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a garbage token, got %d", resp.StatusCode)
	}
}

func TestTenantIsolation(t *testing.T) {
	ts := newTestServer(t)
	_, aliceToken, _ := ts.login(t, "alice@example.com", "Alice")
	bobID, _, _ := ts.login(t, "bob@example.com", "Bob")

	resp, _ := ts.do(t, http.MethodGet, "/admin/customers/"+bobID+"/api-keys", nil, bearer(aliceToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 across tenants, got %d", resp.StatusCode)
	}
}

func TestAuthenticatedResponsesAreEncrypted(t *testing.T) {
	ts := newTestServer(t)
	aliceID, aliceToken, _ := ts.login(t, "alice@example.com", "Alice")

	resp, body := ts.do(t, http.MethodGet, "/admin/customers/"+aliceID+"/", nil, bearer(aliceToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
	customer := decryptEnvelope(t, body, aliceToken)
	if customer["customerId"] != aliceID {
		t.Fatalf("unexpected decrypted record %v", customer)
	}

	// The raw body carries only ciphertext, never the record fields.
	raw, _ := json.Marshal(body)
	if strings.Contains(string(raw), "Alice") {
		t.Fatal("encrypted response leaks plaintext fields")
	}
}

func TestAPIKeyLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	aliceID, aliceToken, _ := ts.login(t, "alice@example.com", "Alice")
	base := "/admin/customers/" + aliceID + "/api-keys"

	resp, body := ts.post(t, base, map[string]interface{}{
		"name":           "prod backend",
		"allowedOrigins": []string{"https://app.example.com"},
	}, bearer(aliceToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %v", resp.StatusCode, body)
	}
	data := decryptEnvelope(t, body, aliceToken)
	secret := data["secret"].(string)
	if !strings.HasPrefix(secret, "otp_live_sk_") {
		t.Fatalf("unexpected secret %q", secret)
	}
	keyID := data["key"].(map[string]interface{})["keyId"].(string)

	// List is readable only with the caller's own token.
	resp, body = ts.do(t, http.MethodGet, base, nil, bearer(aliceToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	keys := decryptEnvelope(t, body, aliceToken)["keys"].([]interface{})
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %d", len(keys))
	}

	resp, _ = ts.do(t, http.MethodDelete, base+"/"+keyID, nil, bearer(aliceToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: status %d", resp.StatusCode)
	}
}

func TestIntrospection(t *testing.T) {
	ts := newTestServer(t)
	aliceID, aliceToken, _ := ts.login(t, "alice@example.com", "Alice")

	created, err := ts.factory.APIKeyService().Create(context.Background(), aliceID, "introspector", nil, nil)
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}

	// The endpoint itself is API-key-authenticated.
	resp, _ := ts.post(t, "/auth/introspect", map[string]string{"token": aliceToken}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without an API key, got %d", resp.StatusCode)
	}

	apiKey := map[string]string{"X-OTP-API-Key": created.Secret}
	resp, body := ts.post(t, "/auth/introspect", map[string]string{"token": aliceToken}, apiKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("introspect: status %d body %v", resp.StatusCode, body)
	}
	if body["active"] != true || body["sub"] != aliceID {
		t.Fatalf("unexpected introspection result %v", body)
	}

	// Garbage tokens are inactive, not errors.
	resp, body = ts.post(t, "/auth/introspect", map[string]string{"token": "garbage"}, apiKey)
	if resp.StatusCode != http.StatusOK || body["active"] != false {
		t.Fatalf("expected inactive result, got status %d body %v", resp.StatusCode, body)
	}
}

func TestDataRequestFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_, requesterToken, _ := ts.login(t, "rita@example.com", "Rita")
	ownerID, ownerToken, _ := ts.login(t, "omar@example.com", "Omar")

	resp, body := ts.post(t, "/customer/data-requests", map[string]string{
		"targetUserId": ownerID,
		"dataType":     "billing",
		"reason":       "audit",
	}, bearer(requesterToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %v", resp.StatusCode, body)
	}
	requestID := decryptEnvelope(t, body, requesterToken)["requestId"].(string)

	// Approval is encrypted under the owner's token; decrypt it to pull
	// out the request key.
	resp, body = ts.post(t, "/customer/data-requests/"+requestID+"/approve", map[string]interface{}{
		"data": map[string]string{"iban": "DE89370400440532013000"},
	}, bearer(ownerToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status %d body %v", resp.StatusCode, body)
	}
	approval := decryptEnvelope(t, body, ownerToken)
	requestKey := approval["requestKey"].(string)

	resp, body = ts.post(t, "/customer/data-requests/"+requestID+"/decrypt", map[string]string{
		"ownerToken": ownerToken,
		"requestKey": requestKey,
	}, bearer(requesterToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decrypt: status %d body %v", resp.StatusCode, body)
	}
	decrypted := decryptEnvelope(t, body, requesterToken)
	shared := decrypted["data"].(map[string]interface{})
	if shared["iban"] != "DE89370400440532013000" {
		t.Fatalf("unexpected shared data %v", shared)
	}
}

// decryptEnvelope unwraps a respondEncrypted payload with the caller's
// bearer token.
func decryptEnvelope(t *testing.T, body map[string]interface{}, callerToken string) map[string]interface{} {
	t.Helper()
	data := body["data"].(map[string]interface{})
	if data["encrypted"] != true {
		t.Fatalf("expected an encrypted payload, got %v", data)
	}

	raw, err := json.Marshal(data["payload"])
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var payload models.JWTEncryptedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	plaintext, err := encryption.DecryptWithJWT(&payload, callerToken)
	if err != nil {
		t.Fatalf("DecryptWithJWT: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(plaintext, &out); err != nil {
		t.Fatalf("unmarshal plaintext: %v", err)
	}
	return out
}
