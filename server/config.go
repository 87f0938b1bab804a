package server

import "time"

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// ResourceURL identifies the protected resource (RFC 9728), e.g. "https://auth.example.com/mcp".
	// Default: Issuer + "/mcp"
	ResourceURL string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// ClockSkewGracePeriod is tolerated past expiresAt when checking codes and tokens
	// Default: 0 (a past expiresAt is always rejected)
	ClockSkewGracePeriod int64 // seconds

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// WARNING: The 'plain' method is deprecated in OAuth 2.1.
	// When false, only S256 is accepted and discovery only advertises S256.
	// Default: false
	AllowPKCEPlain bool

	// RequireHTTPSRedirectURIs rejects non-loopback http:// redirect URIs at registration
	// Default: false, but always enforced when the issuer itself is HTTPS
	RequireHTTPSRedirectURIs bool

	// AllowInsecureHTTP permits a non-localhost http:// issuer
	// WARNING: exposes tokens and credentials to interception
	// Default: false
	AllowInsecureHTTP bool

	// AllowedCustomSchemes is a list of regex patterns for custom redirect URI schemes (native apps)
	// Default: ["^[a-z][a-z0-9+.-]*$"] (RFC 3986 compliant schemes)
	AllowedCustomSchemes []string

	// BlockedRedirectSchemes are never accepted as redirect URI schemes
	// Default: javascript, data, file, vbscript, about, blob
	BlockedRedirectSchemes []string

	// SupportedScopes lists the scopes that clients may register and request
	// If empty, all scopes are allowed
	SupportedScopes []string

	// DefaultScopes are assigned to clients that register without a scope
	// Default: ["read"]
	DefaultScopes []string

	// MaxScopeLength bounds the length of a space-delimited scope parameter
	// Default: 1000
	MaxScopeLength int

	// DisableCodeReuseRevocation stops the server from revoking every token of a
	// grant when its authorization code is presented a second time
	// Default: false (OAuth 2.1 Section 4.1.3 behavior)
	DisableCodeReuseRevocation bool

	// AllowPublicClientRegistration allows unauthenticated dynamic client registration
	// When false, registration requires RegistrationAccessToken as a bearer token
	// Default: true when RegistrationAccessToken is empty
	AllowPublicClientRegistration bool

	// RegistrationAccessToken is the bearer token required for client registration
	RegistrationAccessToken string

	// RequireIntrospectionAuth requires client authentication at the introspection endpoint
	// Default: false
	RequireIntrospectionAuth bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Default: 1
	TrustedProxyCount int

	// RateLimit is the per-IP request rate (requests per second) for OAuth endpoints
	// Default: 10, negative disables rate limiting
	RateLimit float64

	// RateLimitBurst is the per-IP burst size
	// Default: 20
	RateLimitBurst int

	// MaxRegistrationsPerHour limits client registrations per IP
	// Default: 10
	MaxRegistrationsPerHour int

	// CORS controls cross-origin access for browser-based MCP clients
	// Default: disabled (no Access-Control-* headers)
	CORS CORSConfig
}

// CORSConfig holds Cross-Origin Resource Sharing settings for the OAuth endpoints.
type CORSConfig struct {
	// AllowedOrigins lists exact origins (scheme://host[:port]) allowed to call the endpoints
	AllowedOrigins []string

	// AllowWildcardOrigin must be set for "*" in AllowedOrigins to be accepted
	AllowWildcardOrigin bool

	// AllowCredentials sets Access-Control-Allow-Credentials: true
	AllowCredentials bool

	// MaxAge is the preflight cache duration in seconds
	// Default: 3600
	MaxAge int
}

// Enabled reports whether any origin is configured.
func (c CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// AllowsOrigin reports whether origin may make cross-origin requests.
// Matching is exact and case-sensitive.
func (c CORSConfig) AllowsOrigin(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// AuthorizationCodeLifetime returns AuthorizationCodeTTL as a duration
func (c *Config) AuthorizationCodeLifetime() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

// AccessTokenLifetime returns AccessTokenTTL as a duration
func (c *Config) AccessTokenLifetime() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

// RefreshTokenLifetime returns RefreshTokenTTL as a duration
func (c *Config) RefreshTokenLifetime() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

// GracePeriod returns ClockSkewGracePeriod as a duration
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}

// PKCEMethods returns the code_challenge_method values accepted by the server.
func (c *Config) PKCEMethods() []string {
	if c.AllowPKCEPlain {
		return []string{PKCEMethodS256, PKCEMethodPlain}
	}
	return []string{PKCEMethodS256}
}
