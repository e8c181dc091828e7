package signing

import (
	"crypto/rsa"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks one signature scheme. Implementations are tried in
// order by Context.Verify; the legacy HS256 verifier exists only for
// tokens issued before the RS256 migration.
type Verifier interface {
	Verify(tokenString string) (jwt.MapClaims, error)
}

type rs256Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
}

func (v *rs256Verifier) Verify(tokenString string) (jwt.MapClaims, error) {
	return parseWith(tokenString, jwt.SigningMethodRS256.Alg(), v.issuer, func(t *jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
}

type hs256Verifier struct {
	secret []byte
	issuer string
}

func (v *hs256Verifier) Verify(tokenString string) (jwt.MapClaims, error) {
	return parseWith(tokenString, jwt.SigningMethodHS256.Alg(), v.issuer, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
}

func parseWith(tokenString, alg, issuer string, keyFunc jwt.Keyfunc) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{alg})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	token, err := jwt.Parse(tokenString, keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}
