package server

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
)

// RedirectURISecurityError is a redirect URI validation failure. Reason is
// for operators; Error() returns only the client-safe message.
type RedirectURISecurityError struct {
	// Category is the error category for logging/metrics
	Category string
	// URI is the offending redirect URI, truncated for logging
	URI string
	// Reason is the detailed internal reason (for logs, not returned to client)
	Reason string
	// ClientMessage is the message safe to return to clients
	ClientMessage string
}

func (e *RedirectURISecurityError) Error() string {
	return e.ClientMessage
}

// Redirect URI security error categories for metrics and logging.
const (
	RedirectURIErrorCategoryInvalidFormat  = "invalid_format"
	RedirectURIErrorCategoryNotAbsolute    = "not_absolute"
	RedirectURIErrorCategoryFragment       = "fragment_not_allowed"
	RedirectURIErrorCategoryBlockedScheme  = "blocked_scheme"
	RedirectURIErrorCategoryHTTPNotAllowed = "http_not_allowed"
)

// maxRedirectURILength bounds a single registered redirect URI.
const maxRedirectURILength = 2048

// ValidateRedirectURIForRegistration validates a redirect URI presented at
// client registration. The URI must be absolute and fragment-free, its scheme
// must not be blocked, and non-loopback http:// URIs are rejected when the
// HTTPS policy applies.
func (s *Server) ValidateRedirectURIForRegistration(redirectURI string) error {
	logged := util.SafeTruncate(redirectURI, 100)

	if redirectURI == "" || len(redirectURI) > maxRedirectURILength {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			URI:           logged,
			Reason:        fmt.Sprintf("length %d", len(redirectURI)),
			ClientMessage: "redirect_uri: invalid URI format",
		}
	}

	if i := strings.IndexFunc(redirectURI, func(r rune) bool { return !isURIChar(r) }); i >= 0 {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			URI:           logged,
			Reason:        fmt.Sprintf("character %q at offset %d is not allowed in a URI", redirectURI[i], i),
			ClientMessage: "redirect_uri: invalid URI format",
		}
	}

	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			URI:           logged,
			Reason:        fmt.Sprintf("URL parse error: %v", err),
			ClientMessage: "redirect_uri: invalid URI format",
		}
	}

	if !parsed.IsAbs() {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryNotAbsolute,
			URI:           logged,
			Reason:        "URI has no scheme",
			ClientMessage: "redirect_uri: must be an absolute URI",
		}
	}

	// OAuth 2.0 Security BCP Section 4.1.3: redirect_uri MUST NOT contain fragments
	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryFragment,
			URI:           logged,
			Reason:        "URI contains fragment",
			ClientMessage: "redirect_uri: fragments are not allowed",
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	for _, blocked := range s.Config.BlockedRedirectSchemes {
		if scheme == strings.ToLower(blocked) {
			return &RedirectURISecurityError{
				Category:      RedirectURIErrorCategoryBlockedScheme,
				URI:           logged,
				Reason:        fmt.Sprintf("scheme '%s' is in blocked list", scheme),
				ClientMessage: fmt.Sprintf("redirect_uri: scheme '%s' is blocked for security reasons", scheme),
			}
		}
	}

	if scheme == SchemeHTTP || scheme == SchemeHTTPS {
		if parsed.Host == "" {
			return &RedirectURISecurityError{
				Category:      RedirectURIErrorCategoryNotAbsolute,
				URI:           logged,
				Reason:        "http(s) URI without host",
				ClientMessage: "redirect_uri: must include a host",
			}
		}
		if scheme == SchemeHTTP && !isLocalhostHostname(parsed.Hostname()) &&
			(s.Config.RequireHTTPSRedirectURIs || s.issuerIsHTTPS()) {
			return &RedirectURISecurityError{
				Category:      RedirectURIErrorCategoryHTTPNotAllowed,
				URI:           logged,
				Reason:        "non-loopback http redirect URI",
				ClientMessage: "redirect_uri: must use https (http is only allowed for loopback addresses)",
			}
		}
		return nil
	}

	if err := validateCustomScheme(scheme, s.Config.AllowedCustomSchemes); err != nil {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryBlockedScheme,
			URI:           logged,
			Reason:        err.Error(),
			ClientMessage: fmt.Sprintf("redirect_uri: scheme '%s' is not allowed", scheme),
		}
	}
	return nil
}

// isURIChar reports whether r may appear literally in an RFC 3986 URI:
// unreserved, reserved (gen-delims and sub-delims) or the '%' of a
// percent-encoding. Whitespace, control characters and non-ASCII must be
// percent-encoded.
func isURIChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-._~:/?#[]@!$&'()*+,;=%", r)
}
