package oauth

import (
	"log/slog"

	"github.com/giantswarm/mcp-pkce-authserver/security"
)

// Config holds the HTTP handler configuration. Protocol settings such as
// lifetimes, CORS and rate limits live in ServerConfig.
type Config struct {
	// UserAuthenticator identifies the resource owner at the authorization endpoint.
	// Default: BasicUserAuthenticator against the server's user store
	UserAuthenticator UserAuthenticator

	// RateLimiter limits requests per client IP on the OAuth endpoints.
	// Default: built from ServerConfig.RateLimit; nil when RateLimit is 0
	RateLimiter *security.RateLimiter

	// RegistrationLimiter limits client registrations per IP.
	// Default: built from ServerConfig.MaxRegistrationsPerHour
	RegistrationLimiter *security.RegistrationLimiter

	// ResourceScopes are required on every request to the protected resource.
	// Default: none
	ResourceScopes []string

	// Logger for structured logging. Default: the server's logger
	Logger *slog.Logger
}
