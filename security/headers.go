package security

import (
	"net/http"
	"strings"
)

// SetSecurityHeaders sets the response headers shared by every OAuth endpoint.
//
// The endpoints only ever return JSON or redirects, so the policy is as
// strict as it can be:
//   - no framing (X-Frame-Options, frame-ancestors) so /authorize cannot be
//     embedded for clickjacking
//   - no MIME sniffing of JSON bodies
//   - a Content-Security-Policy that loads nothing
//   - no Referer, so codes and state in redirect URLs do not leak to third
//     parties
//
// HSTS is only sent when serverURL is https. Sending it from a plain http
// development server would pin browsers to a scheme the server does not
// speak.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if strings.HasPrefix(serverURL, "https://") {
		// one year, subdomains included
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// token responses must never be cached (RFC 6749 Section 5.1)
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}
