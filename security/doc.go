// Package security provides the transport-side protections of the
// authorization server: audit logging with hashed user identifiers, per-IP
// token-bucket rate limiting, a registration window per IP, client IP
// extraction behind trusted proxies, security response headers and request
// IDs.
//
// # Rate Limiting
//
// RateLimiter keeps one golang.org/x/time/rate limiter per identifier with
// LRU eviction so a flood of distinct addresses cannot grow memory without
// bound. Idle entries are swept lazily from Allow; there is no background
// goroutine to stop.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	if !limiter.Allow(clientIP) {
//	    // reject with 429
//	}
//
// RegistrationLimiter counts client registrations per IP in a fixed window
// backed by github.com/patrickmn/go-cache.
//
// # Audit Logging
//
// Auditor writes one structured record per security event. User IDs are
// hashed before they are logged.
package security
