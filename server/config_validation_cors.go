package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// defaultCORSMaxAge is the preflight cache duration when none is configured.
const defaultCORSMaxAge = 3600

// validateCORSConfig validates CORS configuration for security and correctness.
//
// Validates:
//   - Wildcard origin requires explicit opt-in
//   - Wildcard cannot be combined with credentials
//   - Origins must be scheme://host without a path or trailing slash
//   - HTTP origins are only accepted for loopback hosts unless AllowInsecureHTTP
func validateCORSConfig(config *Config, logger *slog.Logger) error {
	if !config.CORS.Enabled() {
		return nil
	}
	if config.CORS.MaxAge <= 0 {
		config.CORS.MaxAge = defaultCORSMaxAge
	}

	for _, origin := range config.CORS.AllowedOrigins {
		if err := validateCORSOrigin(origin, config, logger); err != nil {
			return err
		}
	}

	logger.Debug("CORS configuration validated",
		"allowed_origins_count", len(config.CORS.AllowedOrigins),
		"allow_credentials", config.CORS.AllowCredentials,
		"max_age", config.CORS.MaxAge)
	return nil
}

// validateCORSOrigin validates a single CORS origin.
func validateCORSOrigin(origin string, config *Config, logger *slog.Logger) error {
	if origin == "*" {
		if config.CORS.AllowCredentials {
			return fmt.Errorf("CORS: cannot use wildcard '*' with AllowCredentials=true")
		}
		if !config.CORS.AllowWildcardOrigin {
			return fmt.Errorf("CORS: wildcard origin '*' requires AllowWildcardOrigin=true")
		}
		logger.Warn("CORS: Wildcard origin (*) enabled via AllowWildcardOrigin=true",
			"risk", "Allows ANY website to make requests to this server",
			"recommendation", "Use specific origins (e.g., https://app.example.com) in production")
		return nil
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("CORS: invalid origin format '%s' (must be scheme://host)", origin)
	}
	if strings.HasSuffix(origin, "/") || (u.Path != "" && u.Path != "/") {
		return fmt.Errorf("CORS: origin '%s' must not have a path or trailing slash", origin)
	}

	if u.Scheme == SchemeHTTP && !config.AllowInsecureHTTP {
		if !isLocalhostHostname(u.Hostname()) {
			return fmt.Errorf("CORS: HTTP origin '%s' not allowed (use HTTPS or set AllowInsecureHTTP=true)", origin)
		}
		logger.Warn("CORS: HTTP origin allowed for localhost development",
			"origin", origin,
			"recommendation", "Use HTTPS origins in production")
	}
	return nil
}
