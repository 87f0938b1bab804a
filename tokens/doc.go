// Package tokens holds the access-token signing key and the JWT format of
// access tokens.
//
// Access tokens are EdDSA (Ed25519) signed JWTs (RFC 9068 profile) carrying
// iss, sub (user ID), aud (client ID), iat, exp, jti, client_id and scope.
// They can be verified with the public key alone; revocation is checked
// separately against the token side table.
//
// The signing key is process-wide configuration. It is loaded from a 32-byte
// seed at startup, never mutated, and replacing it invalidates every
// outstanding access token.
package tokens
