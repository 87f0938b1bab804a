package storage

import "errors"

// Sentinel errors returned by store implementations. Callers test them with errors.Is.
var (
	// ErrClientNotFound is returned when no client is registered under the ID.
	ErrClientNotFound = errors.New("client not found")

	// ErrUserNotFound is returned when no user matches the ID or username.
	ErrUserNotFound = errors.New("user not found")

	// ErrAuthorizationCodeNotFound is returned for unknown authorization codes.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeUsed is returned when an exchanged code is presented again.
	ErrAuthorizationCodeUsed = errors.New("authorization code already used")

	// ErrAuthorizationCodeRevoked is returned for codes revoked before exchange.
	ErrAuthorizationCodeRevoked = errors.New("authorization code revoked")

	// ErrTokenNotFound is returned for unknown, rotated or revoked tokens.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned when a code or token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrAlreadyExists is returned by insert-if-absent operations on key collision.
	ErrAlreadyExists = errors.New("already exists")
)
