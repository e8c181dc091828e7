package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/client"
	"otp-auth-service/internal/config"
	"otp-auth-service/internal/models"
	redisrepo "otp-auth-service/internal/repository/redis"
)

// captureEmailSender records the last code handed to the provider so
// tests can complete the verification flow.
type captureEmailSender struct {
	lastEmail string
	lastCode  string
	fail      bool
}

func (s *captureEmailSender) SendOTP(_ context.Context, email, code string) error {
	if s.fail {
		return errors.New("provider unavailable")
	}
	s.lastEmail = email
	s.lastCode = code
	return nil
}

// newCustomerEnv builds a CustomerService over the shared harness plus
// an httptest profile collaborator. Display names containing "taken"
// get a 409 back.
func newCustomerEnv(t *testing.T) (*testEnv, *CustomerService, *captureEmailSender) {
	t.Helper()
	env := newTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/display-name") {
			if strings.Contains(r.URL.Path, "taken") || strings.Contains(readBody(r), "taken") {
				w.WriteHeader(http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	profile := client.NewProfileClient(&config.Config{
		Profile: config.ProfileConfig{BaseURL: srv.URL, Timeout: 2 * time.Second},
	})
	email := &captureEmailSender{}
	svc := NewCustomerService(
		env.customers,
		redisrepo.NewOTPStore(env.kv),
		profile,
		email,
		env.events,
		env.cfg,
		zap.NewNop(),
	)
	return env, svc, email
}

func readBody(r *http.Request) string {
	buf := make([]byte, 1024)
	n, _ := r.Body.Read(buf)
	return string(buf[:n])
}

func TestRequestOTPValidation(t *testing.T) {
	_, svc, email := newCustomerEnv(t)
	ctx := context.Background()

	for _, bad := range []string{"", "   ", "not-an-email"} {
		if err := svc.RequestOTP(ctx, bad, "203.0.113.7"); !errors.Is(err, ErrValidation) {
			t.Fatalf("RequestOTP(%q): expected ErrValidation, got %v", bad, err)
		}
	}

	if err := svc.RequestOTP(ctx, "  Alice@Example.COM ", "203.0.113.7"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if email.lastEmail != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", email.lastEmail)
	}
	if len(email.lastCode) != 6 {
		t.Fatalf("expected 6-digit code, got %q", email.lastCode)
	}
}

func TestRequestOTPDeliveryFailure(t *testing.T) {
	_, svc, email := newCustomerEnv(t)
	email.fail = true

	if err := svc.RequestOTP(context.Background(), "alice@example.com", ""); !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}

func TestVerifyOTPCreatesCustomer(t *testing.T) {
	env, svc, email := newCustomerEnv(t)
	ctx := context.Background()

	if err := svc.RequestOTP(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}

	customer, created, err := svc.VerifyOTP(ctx, "alice@example.com", email.lastCode, "Alice")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if !created {
		t.Fatal("expected a new account")
	}
	if !strings.HasPrefix(customer.CustomerID, "cust_") {
		t.Fatalf("unexpected customer ID %q", customer.CustomerID)
	}
	if customer.Status != models.CustomerStatusActive {
		t.Fatalf("unexpected status %s", customer.Status)
	}
	if !env.events.has(models.EventCustomerCreated) {
		t.Fatal("expected customer-created event")
	}

	// A challenge is single-use.
	if _, _, err := svc.VerifyOTP(ctx, "alice@example.com", email.lastCode, ""); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired on reuse, got %v", err)
	}

	// The next login resolves the same account without a display name.
	if err := svc.RequestOTP(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	again, created, err := svc.VerifyOTP(ctx, "alice@example.com", email.lastCode, "")
	if err != nil {
		t.Fatalf("second VerifyOTP: %v", err)
	}
	if created || again.CustomerID != customer.CustomerID {
		t.Fatalf("expected the existing account, got created=%v id=%s", created, again.CustomerID)
	}
}

func TestVerifyOTPWrongCode(t *testing.T) {
	_, svc, email := newCustomerEnv(t)
	ctx := context.Background()

	if err := svc.RequestOTP(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}

	if _, _, err := svc.VerifyOTP(ctx, "alice@example.com", "000000", "Alice"); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}

	// The right code still works after a single miss.
	if _, _, err := svc.VerifyOTP(ctx, "alice@example.com", email.lastCode, "Alice"); err != nil {
		t.Fatalf("VerifyOTP after miss: %v", err)
	}
}

func TestVerifyOTPMaxAttempts(t *testing.T) {
	env, svc, email := newCustomerEnv(t)
	ctx := context.Background()

	if err := svc.RequestOTP(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}

	for i := 0; i < env.cfg.OTPMaxAttempts; i++ {
		if _, _, err := svc.VerifyOTP(ctx, "alice@example.com", "000000", ""); !errors.Is(err, ErrAuthenticationRequired) {
			t.Fatalf("attempt %d: expected ErrAuthenticationRequired, got %v", i, err)
		}
	}

	if _, _, err := svc.VerifyOTP(ctx, "alice@example.com", email.lastCode, ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// The challenge is burned; even the right code now reads as expired.
	if _, _, err := svc.VerifyOTP(ctx, "alice@example.com", email.lastCode, ""); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired after burn, got %v", err)
	}
}

func TestVerifyOTPDisplayNameRules(t *testing.T) {
	_, svc, email := newCustomerEnv(t)
	ctx := context.Background()

	verify := func(displayName string) error {
		if err := svc.RequestOTP(ctx, "alice@example.com", ""); err != nil {
			t.Fatalf("RequestOTP: %v", err)
		}
		_, _, err := svc.VerifyOTP(ctx, "alice@example.com", email.lastCode, displayName)
		return err
	}

	if err := verify("   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank name, got %v", err)
	}
	if err := verify("<script>alert(1)</script>"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for suspicious name, got %v", err)
	}
	if err := verify("taken-name"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for taken name, got %v", err)
	}
	if err := verify("Alice"); err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
}

func TestVerifyOTPSuspendedCustomer(t *testing.T) {
	_, svc, email := newCustomerEnv(t)
	ctx := context.Background()

	if err := svc.RequestOTP(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	customer, _, err := svc.VerifyOTP(ctx, "alice@example.com", email.lastCode, "Alice")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if _, err := svc.SetStatus(ctx, customer.CustomerID, models.CustomerStatusSuspended); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	if err := svc.RequestOTP(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if _, _, err := svc.VerifyOTP(ctx, "alice@example.com", email.lastCode, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	env, svc, _ := newCustomerEnv(t)
	ctx := context.Background()
	env.saveCustomer(t, "cust_a", "Ann")

	if _, err := svc.SetStatus(ctx, "cust_a", "frozen"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, "cust_ghost", models.CustomerStatusSuspended); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	customer, err := svc.SetStatus(ctx, "cust_a", models.CustomerStatusSuspended)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if customer.Status != models.CustomerStatusSuspended {
		t.Fatalf("unexpected status %s", customer.Status)
	}
	if !env.events.has(models.EventCustomerSuspended) {
		t.Fatal("expected suspension event")
	}

	if _, err := svc.SetStatus(ctx, "cust_a", models.CustomerStatusActive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if !env.events.has(models.EventCustomerActivated) {
		t.Fatal("expected activation event")
	}
}
