package signing

import (
	"encoding/base64"
	"math/big"
)

type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// PublicJWKS exports the verification key as a JWK Set for
// /.well-known/jwks.json. Only public material is emitted.
func (c *Context) PublicJWKS() JWKSet {
	jwk := JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: c.keyID,
		N:   base64.RawURLEncoding.EncodeToString(c.publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(intToBytes(c.publicKey.E)),
	}
	return JWKSet{Keys: []JWK{jwk}}
}

func intToBytes(value int) []byte {
	if value == 0 {
		return []byte{0}
	}
	return big.NewInt(int64(value)).Bytes()
}
