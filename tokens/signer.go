package tokens

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeHeader is the "typ" header of access tokens (RFC 9068 Section 2.1).
const TokenTypeHeader = "at+jwt"

// ErrInvalidToken wraps every parse or verification failure.
var ErrInvalidToken = errors.New("invalid access token")

// Signer signs and verifies access tokens with an Ed25519 key.
type Signer struct {
	issuer string
	keyID  string
	seed   []byte
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	leeway time.Duration
}

// NewSigner creates a signer from a 32-byte Ed25519 seed.
func NewSigner(issuer string, seed []byte) (*Signer, error) {
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	return &Signer{
		issuer: issuer,
		keyID:  thumbprint(pub),
		seed:   append([]byte(nil), seed...),
		priv:   priv,
		pub:    pub,
	}, nil
}

// GenerateSigner creates a signer with a fresh random key. Tokens signed by
// it do not survive a restart.
func GenerateSigner(issuer string) (*Signer, error) {
	seed, err := GenerateSeed()
	if err != nil {
		return nil, err
	}
	return NewSigner(issuer, seed)
}

// GenerateSeed returns a new random Ed25519 seed.
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return seed, nil
}

// EncodeSeed encodes a seed for configuration files (unpadded base64url).
func EncodeSeed(seed []byte) string {
	return base64.RawURLEncoding.EncodeToString(seed)
}

// DecodeSeed accepts a seed in standard or URL-safe base64, padded or not.
func DecodeSeed(encoded string) ([]byte, error) {
	encoded = strings.TrimRight(strings.TrimSpace(encoded), "=")
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.RawStdEncoding} {
		if seed, err := enc.DecodeString(encoded); err == nil {
			if len(seed) != ed25519.SeedSize {
				return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
			}
			return seed, nil
		}
	}
	return nil, fmt.Errorf("signing key seed is not valid base64")
}

// Issuer returns the "iss" value of tokens signed by s.
func (s *Signer) Issuer() string { return s.issuer }

// KeyID returns the RFC 7638 thumbprint used as "kid".
func (s *Signer) KeyID() string { return s.keyID }

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Seed returns a copy of the private key seed.
func (s *Signer) Seed() []byte { return append([]byte(nil), s.seed...) }

// SetLeeway sets the clock skew tolerated when checking exp, nbf and iat.
// It must be called before the signer is shared.
func (s *Signer) SetLeeway(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.leeway = d
}

// Sign serializes and signs claims. The issuer claim is always set to the
// signer's issuer.
func (s *Signer) Sign(claims *Claims) (string, error) {
	claims.Issuer = s.issuer

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.keyID
	token.Header["typ"] = TokenTypeHeader

	signed, err := token.SignedString(s.priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature, issuer and expiry of raw at the given time
// and returns its claims.
func (s *Signer) Parse(raw string, now time.Time) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != s.keyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return s.pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ClientID == "" {
		return nil, fmt.Errorf("%w: missing subject or client_id", ErrInvalidToken)
	}
	return claims, nil
}

// thumbprint computes the RFC 7638 JWK thumbprint of an Ed25519 public key.
func thumbprint(pub ed25519.PublicKey) string {
	// members in lexicographic order, no whitespace
	canonical := `{"crv":"Ed25519","kty":"OKP","x":"` + base64.RawURLEncoding.EncodeToString(pub) + `"}`
	sum := sha256.Sum256([]byte(canonical))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
