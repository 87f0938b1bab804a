// Package server implements the OAuth 2.1 authorization core.
//
// It registers clients (public, or confidential with a bcrypt-hashed secret),
// issues authorization codes bound to a PKCE challenge, an exact redirect URI
// and an authenticated user, and exchanges them exactly once for an Ed25519
// signed access token plus an opaque refresh token. Refresh tokens rotate on
// every use. Tokens can be introspected (RFC 7662) and revoked (RFC 7009).
//
// The package is transport independent: every operation takes plain values
// and returns either a result or an *Error carrying the OAuth error code,
// a client-safe description and the HTTP status the transport should use.
// The root package maps these operations onto HTTP endpoints.
//
// State lives behind the storage interfaces. Every check-then-mutate step
// (consuming a code, rotating a refresh token) is a single store call so the
// single-use and rotation guarantees hold under concurrent requests.
package server
