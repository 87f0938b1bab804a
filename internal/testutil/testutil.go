package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-pkce-authserver/storage"
)

// TestRedirectURI is the redirect URI registered by GenerateTestClient.
const TestRedirectURI = "https://app.example/cb"

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// GenerateRandomString returns a URL-safe random string of the given length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair returns a fresh S256 challenge and its verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// GenerateTestClient returns a public client allowed the read and write scopes.
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                GenerateRandomString(22),
		ClientType:              storage.ClientTypePublic,
		ClientName:              "Test Client",
		RedirectURIs:            []string{TestRedirectURI},
		Scopes:                  []string{"read", "write"},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		CreatedAt:               time.Now(),
	}
}

// GenerateTestAuthorizationCode returns an unused code for clientID that
// expires ten minutes after now, bound to challenge with S256.
func GenerateTestAuthorizationCode(clientID, challenge string, now time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                GenerateRandomString(43),
		ClientID:            clientID,
		RedirectURI:         TestRedirectURI,
		Scopes:              []string{"read"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: storage.PKCEMethodS256,
		UserID:              "user-1",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}
