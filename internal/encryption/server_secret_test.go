package encryption

import (
	"context"
	"testing"
)

func newLocalServerSecret(t *testing.T) *ServerSecret {
	t.Helper()
	s, err := NewServerSecret(ServerSecretConfig{LocalSecret: "test-server-secret"}, nil)
	if err != nil {
		t.Fatalf("NewServerSecret: %v", err)
	}
	return s
}

func TestServerSecretRoundTrip(t *testing.T) {
	s := newLocalServerSecret(t)
	ctx := context.Background()

	field, err := s.EncryptSecret(ctx, "otp_live_sk_raw-secret-value")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if field.KeyID != "local" || field.Version != "v1" {
		t.Fatalf("unexpected field metadata: %+v", field)
	}

	plaintext, err := s.DecryptSecret(ctx, field)
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if plaintext != "otp_live_sk_raw-secret-value" {
		t.Fatalf("round trip mismatch: %q", plaintext)
	}
}

func TestServerSecretDecryptAfterCacheClear(t *testing.T) {
	s := newLocalServerSecret(t)
	ctx := context.Background()

	field, err := s.EncryptSecret(ctx, "value")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	// Unwrapping must work from the wrapped DEK alone.
	s.ClearCache()
	plaintext, err := s.DecryptSecret(ctx, field)
	if err != nil {
		t.Fatalf("DecryptSecret after cache clear: %v", err)
	}
	if plaintext != "value" {
		t.Fatalf("round trip mismatch: %q", plaintext)
	}
}

func TestServerSecretWrongInstanceCannotDecrypt(t *testing.T) {
	ctx := context.Background()
	s1 := newLocalServerSecret(t)
	s2, err := NewServerSecret(ServerSecretConfig{LocalSecret: "a-different-secret"}, nil)
	if err != nil {
		t.Fatalf("NewServerSecret: %v", err)
	}

	field, err := s1.EncryptSecret(ctx, "value")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if _, err := s2.DecryptSecret(ctx, field); err == nil {
		t.Fatal("expected decryption under different server secret to fail")
	}
}

func TestServerSecretRequiresLocalSecretWithoutKMS(t *testing.T) {
	if _, err := NewServerSecret(ServerSecretConfig{}, nil); err == nil {
		t.Fatal("expected error when neither KMS nor local secret configured")
	}
}
