package storage

import (
	"context"
	"time"
)

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing.
type ClientStore interface {
	// SaveClient inserts a client. Returns ErrAlreadyExists if the client ID is taken.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ListClients lists all registered clients
	ListClients(ctx context.Context) ([]*Client, error)
}

// UserStore holds the seeded users that can authorize clients.
type UserStore interface {
	// SaveUser inserts a user. Returns ErrAlreadyExists if the ID or username is taken.
	SaveUser(ctx context.Context, user *User) error

	// GetUser retrieves a user by ID
	GetUser(ctx context.Context, userID string) (*User, error)

	// GetUserByUsername retrieves a user by login name
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// CodeCheck is evaluated by ConsumeAuthorizationCode while the store holds
// its lock. Returning an error leaves the code untouched.
type CodeCheck func(code *AuthorizationCode) error

// RefreshCheck is evaluated by ConsumeRefreshToken while the store holds its
// lock. Returning an error leaves the token untouched.
type RefreshCheck func(token *RefreshToken) error

// FlowStore manages authorization codes.
type FlowStore interface {
	// SaveAuthorizationCode inserts a freshly minted code.
	// Returns ErrAlreadyExists on collision.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode returns a copy of the stored code.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically checks that the code exists, is not
	// expired at now, is neither used nor revoked, runs check, and marks the
	// code used. Only one concurrent caller can succeed for a given code.
	//
	// On ErrAuthorizationCodeUsed the stored code is returned as well so the
	// caller can react to the replay. For every other failure the code is nil.
	ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time, check CodeCheck) (*AuthorizationCode, error)

	// RevokeAuthorizationCode moves an unexchanged code to the revoked state.
	// Returns false if the code is unknown or already terminal.
	RevokeAuthorizationCode(ctx context.Context, code string) (bool, error)
}

// TokenStore is the side table of issued access and refresh tokens.
type TokenStore interface {
	// SaveTokenPair inserts an access token and its refresh token as one step.
	SaveTokenPair(ctx context.Context, access *AccessToken, refresh *RefreshToken) error

	// GetAccessToken returns the record for an access token value, expired or
	// not. Returns ErrTokenNotFound once the token is revoked or rotated.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// GetRefreshToken returns the record for a refresh token value, expired or not.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically checks the refresh token exists and is not
	// expired at now, runs check, and deletes it together with its paired
	// access token. Only one concurrent caller can succeed for a given token.
	ConsumeRefreshToken(ctx context.Context, token string, now time.Time, check RefreshCheck) (*RefreshToken, error)

	// RevokeAccessToken removes an access token and its paired refresh token.
	// Returns false if the token was not present.
	RevokeAccessToken(ctx context.Context, token string) (bool, error)

	// RevokeRefreshToken removes a refresh token and its paired access token.
	// Returns false if the token was not present.
	RevokeRefreshToken(ctx context.Context, token string) (bool, error)

	// RevokeGrant removes every token descending from the given grant and
	// returns how many tokens were removed.
	RevokeGrant(ctx context.Context, grantID string) (int, error)
}

// StatsProvider is implemented by stores that can report their size.
type StatsProvider interface {
	Stats(ctx context.Context) Stats
}
