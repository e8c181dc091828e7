package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
)

// Context holds the RS256 key pair used to sign and verify service JWTs,
// plus an optional legacy HS256 shared secret kept for tokens minted
// before the RS256 migration.
type Context struct {
	privateKey    *rsa.PrivateKey
	publicKey     *rsa.PublicKey
	keyID         string
	issuer        string
	legacySecrets [][]byte
	verifiers     []Verifier
}

// Option configures a signing Context.
type Option func(*Context) error

// WithRSAKeysPEM loads the RS256 key pair from PEM material. When the
// private PEM is empty a fresh pair is generated at startup, which is the
// development path; tokens then only survive one process lifetime.
func WithRSAKeysPEM(privatePEM string) Option {
	return func(c *Context) error {
		privatePEM = strings.TrimSpace(privatePEM)
		if privatePEM == "" {
			return nil
		}
		priv, err := parseRSAPrivateKey(privatePEM)
		if err != nil {
			return fmt.Errorf("signing: parse private key: %w", err)
		}
		c.privateKey = priv
		c.publicKey = &priv.PublicKey
		return nil
	}
}

// WithLegacySecret enables the HS256 fallback verifier for pre-migration
// tokens. An empty secret disables the fallback.
func WithLegacySecret(secret string) Option {
	return func(c *Context) error {
		if strings.TrimSpace(secret) == "" {
			return nil
		}
		c.legacySecrets = append(c.legacySecrets, []byte(secret))
		return nil
	}
}

// WithIssuer sets the iss claim enforced on verification.
func WithIssuer(issuer string) Option {
	return func(c *Context) error {
		c.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// NewContext builds a signing context. Verification order is RS256 first,
// then any legacy verifiers, failing only when every verifier fails.
func NewContext(opts ...Option) (*Context, error) {
	c := &Context{issuer: "otp-auth-service"}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.privateKey == nil {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("signing: generate key pair: %w", err)
		}
		c.privateKey = priv
		c.publicKey = &priv.PublicKey
	}

	kid, err := keyID(c.publicKey)
	if err != nil {
		return nil, err
	}
	c.keyID = kid

	// The chain is assembled after all options so every verifier sees the
	// final issuer: RS256 first, legacy HS256 after it.
	c.verifiers = []Verifier{&rs256Verifier{publicKey: c.publicKey, issuer: c.issuer}}
	for _, secret := range c.legacySecrets {
		c.verifiers = append(c.verifiers, &hs256Verifier{secret: secret, issuer: c.issuer})
	}
	return c, nil
}

// KeyID returns the kid embedded into JWT headers and the JWKS document.
func (c *Context) KeyID() string { return c.keyID }

// Issuer returns the iss claim value.
func (c *Context) Issuer() string { return c.issuer }

// Sign produces a compact RS256 JWS over the supplied claims.
func (c *Context) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = c.keyID
	signed, err := token.SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing: sign token: %w", err)
	}
	return signed, nil
}

// Verify runs the verifier chain in order and returns the claims from the
// first verifier that accepts the token. Expiry is reported as ErrExpired;
// every other failure collapses to ErrInvalidSignature.
func (c *Context) Verify(tokenString string) (jwt.MapClaims, error) {
	var lastErr error
	for _, v := range c.verifiers {
		claims, err := v.Verify(tokenString)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	if lastErr != nil && errors.Is(lastErr, ErrExpired) {
		return nil, ErrExpired
	}
	return nil, ErrInvalidSignature
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("PEM block is not an RSA private key")
	}
	return key, nil
}

// keyID derives a stable identifier from the public key material.
func keyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("signing: marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8]), nil
}
