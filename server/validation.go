package server

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	// DangerousSchemes lists URI schemes that must never be allowed for security
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about", "blob"}

	// DefaultRFC3986SchemePattern is the default regex pattern for custom URI schemes (RFC 3986)
	DefaultRFC3986SchemePattern = []string{"^[a-z][a-z0-9+.-]*$"}
)

const oauth21SecurityBestPracticesURL = "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-13#section-7.5"

// validateHTTPSEnforcement ensures that the OAuth server is running over HTTPS
// outside of localhost development.
//
// - HTTPS URLs: Always allowed
// - HTTP on localhost: Allowed with warning
// - HTTP on non-localhost: Blocked unless AllowInsecureHTTP=true
func (s *Server) validateHTTPSEnforcement() error {
	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLocalhostHostname(hostname) {
		if !s.Config.AllowInsecureHTTP {
			s.Logger.Warn("⚠️  DEVELOPMENT WARNING: Running OAuth over HTTP on localhost",
				"issuer", s.Config.Issuer,
				"risk", "Credentials exposed on local network",
				"to_suppress", "Set AllowInsecureHTTP=true in Config",
				"learn_more", oauth21SecurityBestPracticesURL)
		}
		return nil
	}

	if !s.Config.AllowInsecureHTTP {
		return fmt.Errorf(
			"issuer must use HTTPS outside localhost (got %s://%s); set AllowInsecureHTTP=true to override",
			issuerURL.Scheme, hostname)
	}

	s.Logger.Error("🚨 CRITICAL SECURITY WARNING: Running OAuth server over HTTP",
		"issuer", s.Config.Issuer,
		"hostname", hostname,
		"risk", "All tokens and credentials exposed to network sniffing and MITM attacks",
		"action_required", "Switch to HTTPS",
		"learn_more", oauth21SecurityBestPracticesURL)
	return nil
}

// isLocalhostHostname checks if a hostname refers to the local machine.
// This includes the whole 127.0.0.0/8 range, ::1 and the localhost name.
func isLocalhostHostname(hostname string) bool {
	hostname = strings.Trim(strings.ToLower(hostname), "[]")
	if hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// issuerIsHTTPS reports whether the configured issuer uses HTTPS.
func (s *Server) issuerIsHTTPS() bool {
	u, err := url.Parse(s.Config.Issuer)
	return err == nil && u.Scheme == SchemeHTTPS
}

// resolveScopes normalizes a scope request for client. An empty request
// yields the client's allowed scopes.
func (s *Server) resolveScopes(requested []string, client *storage.Client) ([]string, error) {
	scopes := util.NormalizeScopes(requested)
	if len(util.FormatScope(scopes)) > s.Config.MaxScopeLength {
		return nil, ErrInvalidScope(fmt.Sprintf("scope exceeds %d characters", s.Config.MaxScopeLength))
	}
	if len(scopes) == 0 {
		return append([]string(nil), client.Scopes...), nil
	}
	if err := s.validateSupportedScopes(scopes); err != nil {
		return nil, err
	}
	if !client.AllowsScopes(scopes) {
		// generic message so allowed scopes cannot be enumerated
		return nil, ErrInvalidScope("client is not authorized for one or more requested scopes")
	}
	return scopes, nil
}

// validateSupportedScopes checks scopes against Config.SupportedScopes.
// If no scopes are configured, all scopes are allowed.
func (s *Server) validateSupportedScopes(scopes []string) error {
	if len(s.Config.SupportedScopes) == 0 {
		return nil
	}
	for _, scope := range scopes {
		if !util.ContainsScope(s.Config.SupportedScopes, scope) {
			return ErrInvalidScope(fmt.Sprintf("unsupported scope: %s", scope))
		}
	}
	return nil
}

// validateCustomScheme validates a custom URI scheme against allowed patterns.
//
// Native apps register private-use schemes such as "com.example.app:/cb"
// (RFC 8252 Section 7.1). Schemes in Config.BlockedRedirectSchemes are
// rejected before this check runs.
//
// SECURITY: a private-use scheme can be claimed by any app on the device,
// so operators that know their clients should narrow AllowedCustomSchemes
// to reverse-domain patterns they own. Without configured patterns any
// RFC 3986 scheme name is accepted.
func validateCustomScheme(scheme string, allowedSchemes []string) error {
	if len(allowedSchemes) == 0 {
		allowedSchemes = DefaultRFC3986SchemePattern
	}
	for _, pattern := range allowedSchemes {
		matched, err := regexp.MatchString(pattern, scheme)
		if err != nil {
			return fmt.Errorf("invalid scheme pattern '%s': %w", pattern, err)
		}
		if matched {
			return nil
		}
	}
	return fmt.Errorf("redirect_uri scheme '%s' does not match allowed patterns", scheme)
}
