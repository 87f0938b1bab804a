package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// applySecureDefaults applies secure-by-default configuration values.
// This follows the principle: secure by default, opt-in for less secure options.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applyRegistrationDefaults(config)
	applyRateLimitDefaults(config)

	if config.ResourceURL == "" && config.Issuer != "" {
		config.ResourceURL = strings.TrimRight(config.Issuer, "/") + "/mcp"
	}

	logSecurityWarnings(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration.
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.ClockSkewGracePeriod < 0 {
		config.ClockSkewGracePeriod = 0
	}
}

// applyRegistrationDefaults sets defaults for client registration and redirect URI policy.
func applyRegistrationDefaults(config *Config) {
	if len(config.DefaultScopes) == 0 {
		config.DefaultScopes = []string{"read"}
	}
	if len(config.AllowedCustomSchemes) == 0 {
		config.AllowedCustomSchemes = DefaultRFC3986SchemePattern
	}
	if len(config.BlockedRedirectSchemes) == 0 {
		config.BlockedRedirectSchemes = DangerousSchemes
	}
	if config.MaxScopeLength == 0 {
		config.MaxScopeLength = 1000
	}
	if config.RegistrationAccessToken == "" {
		config.AllowPublicClientRegistration = true
	}
}

// applyRateLimitDefaults sets defaults for rate limiting configuration.
func applyRateLimitDefaults(config *Config) {
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.RateLimitBurst == 0 {
		config.RateLimitBurst = 20
	}
	if config.MaxRegistrationsPerHour == 0 {
		config.MaxRegistrationsPerHour = 10
	}
}

// validateConfig rejects configurations the server cannot run with.
func validateConfig(config *Config) error {
	if config.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	issuer, err := url.Parse(config.Issuer)
	if err != nil || issuer.Host == "" {
		return fmt.Errorf("invalid issuer URL: %q", config.Issuer)
	}
	if issuer.Fragment != "" || issuer.RawQuery != "" {
		return fmt.Errorf("issuer must not contain a query or fragment")
	}
	for _, pattern := range config.AllowedCustomSchemes {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid custom scheme pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowPKCEPlain {
		logger.Warn("⚠️  SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
	if config.AllowPublicClientRegistration {
		logger.Warn("⚠️  SECURITY WARNING: Public client registration is ENABLED",
			"risk", "Anyone can register clients; only the per-IP registration limit applies",
			"recommendation", "Set RegistrationAccessToken to restrict registration")
	}
	if config.DisableCodeReuseRevocation {
		logger.Warn("⚠️  SECURITY WARNING: Authorization code reuse revocation is DISABLED",
			"risk", "Tokens obtained with a stolen code stay valid after replay is detected",
			"recommendation", "Set DisableCodeReuseRevocation=false")
	}
	if config.ClockSkewGracePeriod > 60 {
		logger.Warn("⚠️  CONFIGURATION WARNING: Large clock skew grace period",
			"grace_period_seconds", config.ClockSkewGracePeriod,
			"risk", "Expired codes and tokens are accepted for longer than intended")
	}
}
