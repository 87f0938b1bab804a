package tokens

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testIssuer = "https://auth.example.com"

func testSigner(t *testing.T) *Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	s, err := NewSigner(testIssuer, seed)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return s
}

func TestNewSigner_Validation(t *testing.T) {
	tests := []struct {
		name    string
		issuer  string
		seed    []byte
		wantErr bool
	}{
		{name: "valid", issuer: testIssuer, seed: make([]byte, 32)},
		{name: "missing issuer", issuer: "", seed: make([]byte, 32), wantErr: true},
		{name: "short seed", issuer: testIssuer, seed: make([]byte, 16), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSigner(tt.issuer, tt.seed)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSigner() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSigner_SignAndParse(t *testing.T) {
	s := testSigner(t)
	now := time.Now().Truncate(time.Second)

	raw, err := s.Sign(NewClaims("jti-1", "client-1", "user-1", []string{"read", "write"}, now, time.Hour))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	claims, err := s.Parse(raw, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if claims.Issuer != testIssuer {
		t.Errorf("iss = %q, want %q", claims.Issuer, testIssuer)
	}
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q, want user-1", claims.Subject)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "client-1" {
		t.Errorf("aud = %v, want [client-1]", claims.Audience)
	}
	if claims.ID != "jti-1" {
		t.Errorf("jti = %q, want jti-1", claims.ID)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("exp - iat = %v, want 1h", got)
	}
	if !claims.HasScope("write") || claims.HasScope("admin") {
		t.Errorf("unexpected scopes %v", claims.Scopes())
	}
}

func TestSigner_ParseRejects(t *testing.T) {
	s := testSigner(t)
	now := time.Now().Truncate(time.Second)

	valid, err := s.Sign(NewClaims("jti", "client", "user", []string{"read"}, now, time.Hour))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	other, err := GenerateSigner(testIssuer)
	if err != nil {
		t.Fatalf("GenerateSigner() error = %v", err)
	}
	foreign, _ := other.Sign(NewClaims("jti", "client", "user", nil, now, time.Hour))

	otherIssuer, _ := NewSigner("https://evil.example.com", s.Seed())
	wrongIssuer, _ := otherIssuer.Sign(NewClaims("jti", "client", "user", nil, now, time.Hour))

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, NewClaims("jti", "client", "user", nil, now, time.Hour))
	hs.Header["kid"] = s.KeyID()
	hsToken, _ := hs.SignedString([]byte("shared-secret"))

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"admin"}`)) + "." + parts[2]

	tests := []struct {
		name string
		raw  string
		at   time.Time
	}{
		{name: "expired", raw: valid, at: now.Add(2 * time.Hour)},
		{name: "exactly at expiry", raw: valid, at: now.Add(time.Hour)},
		{name: "foreign key", raw: foreign, at: now},
		{name: "wrong issuer", raw: wrongIssuer, at: now},
		{name: "algorithm confusion", raw: hsToken, at: now},
		{name: "tampered payload", raw: tampered, at: now},
		{name: "garbage", raw: "not-a-jwt", at: now},
		{name: "empty", raw: "", at: now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Parse(tt.raw, tt.at)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestSeedEncoding(t *testing.T) {
	seed, err := GenerateSeed()
	if err != nil {
		t.Fatalf("GenerateSeed() error = %v", err)
	}

	for _, encoded := range []string{
		EncodeSeed(seed),
		base64.StdEncoding.EncodeToString(seed),
		base64.URLEncoding.EncodeToString(seed),
	} {
		decoded, err := DecodeSeed(encoded)
		if err != nil {
			t.Fatalf("DecodeSeed(%q) error = %v", encoded, err)
		}
		if string(decoded) != string(seed) {
			t.Errorf("DecodeSeed(%q) round trip mismatch", encoded)
		}
	}

	if _, err := DecodeSeed(EncodeSeed([]byte("short"))); err == nil {
		t.Error("DecodeSeed() accepted a short seed")
	}
	if _, err := DecodeSeed("!!!"); err == nil {
		t.Error("DecodeSeed() accepted invalid base64")
	}
}

func TestJWKS(t *testing.T) {
	s := testSigner(t)
	set := s.JWKS()
	if len(set.Keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(set.Keys))
	}
	k := set.Keys[0]
	if k.KeyType != "OKP" || k.Curve != "Ed25519" || k.Algorithm != "EdDSA" {
		t.Errorf("unexpected key %+v", k)
	}
	if k.KeyID != s.KeyID() {
		t.Errorf("kid = %q, want %q", k.KeyID, s.KeyID())
	}
	x, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil || !ed25519.PublicKey(x).Equal(s.PublicKey()) {
		t.Error("x does not encode the public key")
	}
}

func TestClaimsContext(t *testing.T) {
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Error("ClaimsFromContext() found claims in an empty context")
	}

	claims := NewClaims("jti", "client", "user", []string{"read"}, time.Now(), time.Hour)
	got, ok := ClaimsFromContext(ContextWithClaims(context.Background(), claims))
	if !ok || got != claims {
		t.Error("ClaimsFromContext() did not return the stored claims")
	}
}
