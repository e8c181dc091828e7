package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"otp-auth-service/internal/models"
)

func TestIssueProducesVerifiableTokenPair(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")

	pair := env.issueFor(t, customer)
	if pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token type %s", pair.TokenType)
	}
	if pair.AccessToken == "" || pair.IDToken == "" || pair.RefreshToken == "" {
		t.Fatal("incomplete token pair")
	}
	if pair.Scope != "openid profile" {
		t.Fatalf("expected default scope, got %q", pair.Scope)
	}

	claims, err := env.tokens.Verify(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub, _ := claims["sub"].(string); sub != "cust_1" {
		t.Fatalf("unexpected sub %v", claims["sub"])
	}
	if name, _ := claims["displayName"].(string); name != "Alice" {
		t.Fatalf("unexpected displayName %v", claims["displayName"])
	}
	if _, hasEmail := claims["email"]; hasEmail {
		t.Fatal("access token must not carry an email claim")
	}
}

func TestIssueRejectsIncompleteCustomer(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.tokens.Issue(context.Background(), &models.Customer{DisplayName: "x", Status: models.CustomerStatusActive}, RequestMeta{}, nil, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing id, got %v", err)
	}
	if _, err := env.tokens.Issue(context.Background(), &models.Customer{CustomerID: "cust_x", Status: models.CustomerStatusActive}, RequestMeta{}, nil, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing display name, got %v", err)
	}
}

func TestIssueRejectsSuspendedCustomer(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")
	customer.Status = models.CustomerStatusSuspended

	if _, err := env.tokens.Issue(context.Background(), customer, RequestMeta{}, nil, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestIssueWithAPIKeyShapesAudienceAndScope(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")
	apiKey := &models.APIKeyRecord{
		KeyID:         "key-1",
		CustomerID:    "cust_1",
		AllowedScopes: []string{"openid", "billing"},
	}

	pair, err := env.tokens.Issue(context.Background(), customer, RequestMeta{}, apiKey, "openid billing admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// "admin" is not in the key's allowed scopes; the intersection wins.
	if pair.Scope != "openid billing" {
		t.Fatalf("expected intersected scope, got %q", pair.Scope)
	}

	claims, err := env.tokens.Verify(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if aud, _ := claims["aud"].(string); aud != "key-1" {
		t.Fatalf("expected aud key-1, got %v", claims["aud"])
	}
	if cid, _ := claims["client_id"].(string); cid != "key-1" {
		t.Fatalf("expected client_id key-1, got %v", claims["client_id"])
	}
}

func TestSSOScopeResolution(t *testing.T) {
	cases := []struct {
		name   string
		key    *models.APIKeyRecord
		expect []string
	}{
		{"no key", nil, nil},
		{"sso disabled", &models.APIKeyRecord{KeyID: "k1"}, []string{"k1"}},
		{
			"isolation none",
			&models.APIKeyRecord{KeyID: "k1", SSO: &models.SSOConfig{Enabled: true, IsolationMode: models.SSOIsolationNone}},
			[]string{"*"},
		},
		{
			"isolation selective",
			&models.APIKeyRecord{KeyID: "k1", SSO: &models.SSOConfig{Enabled: true, IsolationMode: models.SSOIsolationSelective, AllowedKeyIDs: []string{"k2", "k3"}}},
			[]string{"k1", "k2", "k3"},
		},
		{
			"isolation complete",
			&models.APIKeyRecord{KeyID: "k1", SSO: &models.SSOConfig{Enabled: true, IsolationMode: models.SSOIsolationComplete}},
			[]string{"k1"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resolveSSOScope(tc.key)
			if len(got) != len(tc.expect) {
				t.Fatalf("expected %v, got %v", tc.expect, got)
			}
			for i := range got {
				if got[i] != tc.expect[i] {
					t.Fatalf("expected %v, got %v", tc.expect, got)
				}
			}
		})
	}
}

func TestRefreshIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")
	pair := env.issueFor(t, customer)

	next, err := env.tokens.Refresh(context.Background(), pair.RefreshToken, RequestMeta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The consumed token must stop resolving.
	if _, err := env.tokens.Refresh(context.Background(), pair.RefreshToken, RequestMeta{}); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired on reuse, got %v", err)
	}

	// The replacement keeps working.
	if _, err := env.tokens.Verify(context.Background(), next.AccessToken); err != nil {
		t.Fatalf("Verify of refreshed token: %v", err)
	}
}

func TestRefreshPreservesGrantedScope(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")
	apiKey := &models.APIKeyRecord{
		KeyID:         "key-1",
		CustomerID:    customer.CustomerID,
		AllowedScopes: []string{"read"},
	}

	pair, err := env.tokens.Issue(context.Background(), customer, RequestMeta{}, apiKey, "read")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.Scope != "read" {
		t.Fatalf("expected granted scope %q, got %q", "read", pair.Scope)
	}

	// Rotation must not widen the grant back to the default scope.
	next, err := env.tokens.Refresh(context.Background(), pair.RefreshToken, RequestMeta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.Scope != "read" {
		t.Fatalf("scope changed across refresh: issued %q, got %q", "read", next.Scope)
	}

	claims, err := env.tokens.Verify(context.Background(), next.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if scope, _ := claims["scope"].(string); scope != "read" {
		t.Fatalf("refreshed access token carries scope %q", scope)
	}
}

func TestRefreshPreservesAbsoluteExpiry(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")
	pair := env.issueFor(t, customer)

	time.Sleep(1100 * time.Millisecond)

	next, err := env.tokens.Refresh(context.Background(), pair.RefreshToken, RequestMeta{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	// The window shrinks toward the original deadline rather than
	// restarting; after more than a second the remaining lifetime must be
	// strictly smaller.
	if next.RefreshExpiresIn >= pair.RefreshExpiresIn {
		t.Fatalf("refresh extended the absolute expiry: %d >= %d", next.RefreshExpiresIn, pair.RefreshExpiresIn)
	}
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.tokens.Refresh(context.Background(), "no-such-token", RequestMeta{}); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
}

func TestRefreshRejectsSuspendedCustomer(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")
	pair := env.issueFor(t, customer)

	customer.Status = models.CustomerStatusSuspended
	if err := env.customers.Save(context.Background(), customer, ""); err != nil {
		t.Fatalf("save customer: %v", err)
	}

	if _, err := env.tokens.Refresh(context.Background(), pair.RefreshToken, RequestMeta{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRevokeDenyListsToken(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")
	pair := env.issueFor(t, customer)

	if err := env.tokens.Revoke(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !env.events.has(models.EventTokenRevoked) {
		t.Fatal("expected token-revoked event")
	}

	if _, err := env.tokens.Verify(context.Background(), pair.AccessToken); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected revoked token to fail verification, got %v", err)
	}

	// A second token for the same customer stays valid.
	other := env.issueFor(t, customer)
	if _, err := env.tokens.Verify(context.Background(), other.AccessToken); err != nil {
		t.Fatalf("unrelated token rejected: %v", err)
	}
}

func TestIntrospectRequiresCallerAPIKey(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")
	pair := env.issueFor(t, customer)

	if _, err := env.tokens.Introspect(context.Background(), pair.AccessToken, "", nil); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired without caller key, got %v", err)
	}
}

func TestIntrospectResults(t *testing.T) {
	env := newTestEnv(t)
	customer := env.saveCustomer(t, "cust_1", "Alice")
	pair := env.issueFor(t, customer)
	callerKey := &models.APIKeyRecord{KeyID: "caller-key", CustomerID: "cust_1"}

	result, err := env.tokens.Introspect(context.Background(), pair.AccessToken, "", callerKey)
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if !result.Active || result.CustomerID != "cust_1" || result.TokenType != "Bearer" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Exp == 0 || result.Iat == 0 {
		t.Fatalf("missing time claims: %+v", result)
	}

	// client_id not matching the caller's key: inactive, not an error.
	result, err = env.tokens.Introspect(context.Background(), pair.AccessToken, "someone-elses-key", callerKey)
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if result.Active {
		t.Fatal("expected inactive result for mismatched client_id")
	}

	// Garbage token: inactive, not an error.
	result, err = env.tokens.Introspect(context.Background(), "not-a-token", "", callerKey)
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if result.Active {
		t.Fatal("expected inactive result for invalid token")
	}

	// Revoked token: inactive.
	if err := env.tokens.Revoke(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	result, err = env.tokens.Introspect(context.Background(), pair.AccessToken, "", callerKey)
	if err != nil {
		t.Fatalf("Introspect: %v", err)
	}
	if result.Active {
		t.Fatal("expected inactive result for revoked token")
	}
}
