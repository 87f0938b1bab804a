package tokens

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
)

// Claims are the claims of an access token.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// NewClaims builds the claims for a token issued to clientID on behalf of
// userID, valid for ttl from issuedAt.
func NewClaims(tokenID, clientID, userID string, scopes []string, issuedAt time.Time, ttl time.Duration) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		ClientID: clientID,
		Scope:    util.FormatScope(scopes),
	}
}

// Scopes returns the granted scopes.
func (c *Claims) Scopes() []string {
	return util.ParseScope(c.Scope)
}

// HasScope reports whether scope was granted.
func (c *Claims) HasScope(scope string) bool {
	return util.ContainsScope(c.Scopes(), scope)
}

type claimsContextKey struct{}

// ContextWithClaims returns a copy of ctx carrying the verified claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the verified claims stored by the bearer middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok && claims != nil
}
