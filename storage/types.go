package storage

import (
	"time"

	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
)

// Client types
const (
	ClientTypePublic       = "public"
	ClientTypeConfidential = "confidential"
)

// PKCE code challenge methods
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// Token type identifiers used in introspection responses and revocation hints.
const (
	TokenTypeAccessToken  = "access_token"
	TokenTypeRefreshToken = "refresh_token"
)

// Client represents a registered OAuth client.
// Redirect URIs are immutable once registered.
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash, empty for public clients
	ClientType              string // "public" or "confidential"
	ClientName              string
	RedirectURIs            []string
	Scopes                  []string // allowed scopes
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	CreatedAt               time.Time
}

// HasRedirectURI reports whether uri is byte-for-byte one of the registered redirect URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AllowsScopes reports whether every requested scope is in the client's allowed set.
func (c *Client) AllowsScopes(scopes []string) bool {
	return util.ScopesSubset(scopes, c.Scopes)
}

// IsConfidential reports whether the client authenticates with a secret.
func (c *Client) IsConfidential() bool {
	return c.ClientType == ClientTypeConfidential
}

// User is a seeded resource owner.
type User struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash
	CreatedAt    time.Time
}

// CodeState is the lifecycle state of an authorization code.
type CodeState string

// Authorization code states. CodeStateExchanged, CodeStateExpired and
// CodeStateRevoked are terminal.
const (
	CodeStateIssued    CodeState = "CODE_ISSUED"
	CodeStateExchanged CodeState = "EXCHANGED"
	CodeStateExpired   CodeState = "EXPIRED"
	CodeStateRevoked   CodeState = "REVOKED"
)

// AuthorizationCode represents an issued authorization code bound to a PKCE
// challenge, a redirect URI and the authenticated user.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
	Revoked             bool
}

// State returns the lifecycle state of the code at the given time.
// Exchanged and revoked codes stay in that state even after they expire.
func (c *AuthorizationCode) State(now time.Time) CodeState {
	switch {
	case c.Used:
		return CodeStateExchanged
	case c.Revoked:
		return CodeStateRevoked
	case !now.Before(c.ExpiresAt):
		return CodeStateExpired
	default:
		return CodeStateIssued
	}
}

// AccessToken is the side-table record of an issued access token, keyed by
// the token value. The token itself is self-contained and signed.
type AccessToken struct {
	Token        string
	TokenID      string // jti claim
	GrantID      string // groups every token descending from one authorization code
	ClientID     string
	UserID       string
	Scopes       []string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RefreshToken string // paired refresh token
}

// ExpiresIn returns the lifetime of the token in whole seconds.
func (t *AccessToken) ExpiresIn() int64 {
	return int64(t.ExpiresAt.Sub(t.IssuedAt) / time.Second)
}

// RefreshToken is an opaque high-entropy refresh token mapped to the
// identity triple of the access token it was issued with.
type RefreshToken struct {
	Token       string
	GrantID     string
	ClientID    string
	UserID      string
	Scopes      []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	AccessToken string // paired access token
}

// Stats holds entity counts for metrics and admin views.
type Stats struct {
	Clients             int
	ConfidentialClients int // subset of Clients holding a secret
	Users               int
	AuthorizationCodes  int
	AccessTokens        int
	RefreshTokens       int
}
