package tokens

import "encoding/base64"

// JWK is a JSON Web Key (RFC 7517) for an Ed25519 public key (RFC 8037).
type JWK struct {
	KeyType   string `json:"kty"`
	Curve     string `json:"crv"`
	X         string `json:"x"`
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
	Use       string `json:"use"`
}

// JWKS is a JSON Web Key Set.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the key set resource servers use to verify access tokens.
func (s *Signer) JWKS() JWKS {
	return JWKS{Keys: []JWK{{
		KeyType:   "OKP",
		Curve:     "Ed25519",
		X:         base64.RawURLEncoding.EncodeToString(s.pub),
		KeyID:     s.keyID,
		Algorithm: "EdDSA",
		Use:       "sig",
	}}}
}
