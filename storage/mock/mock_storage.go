// Package mock provides a storage implementation whose individual
// operations can be overridden in tests, falling back to an in-memory store.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/mcp-pkce-authserver/storage"
	"github.com/giantswarm/mcp-pkce-authserver/storage/memory"
)

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// Store is a mock implementation of every storage interface. Any *Func field
// left nil falls through to the backing memory store.
type Store struct {
	Backend *memory.Store

	SaveClientFunc               func(ctx context.Context, client *storage.Client) error
	GetClientFunc                func(ctx context.Context, clientID string) (*storage.Client, error)
	SaveUserFunc                 func(ctx context.Context, user *storage.User) error
	GetUserByUsernameFunc        func(ctx context.Context, username string) (*storage.User, error)
	SaveAuthorizationCodeFunc    func(ctx context.Context, code *storage.AuthorizationCode) error
	ConsumeAuthorizationCodeFunc func(ctx context.Context, code string, now time.Time, check storage.CodeCheck) (*storage.AuthorizationCode, error)
	SaveTokenPairFunc            func(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) error
	GetAccessTokenFunc           func(ctx context.Context, token string) (*storage.AccessToken, error)
	ConsumeRefreshTokenFunc      func(ctx context.Context, token string, now time.Time, check storage.RefreshCheck) (*storage.RefreshToken, error)
	RevokeGrantFunc              func(ctx context.Context, grantID string) (int, error)

	mu         sync.Mutex
	callCounts map[string]int
}

// New creates a mock store backed by a fresh memory store.
func New() *Store {
	return &Store{
		Backend:    memory.New(),
		callCounts: make(map[string]int),
	}
}

// CallCount returns how many times the named method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCounts[method]
}

func (s *Store) record(method string) {
	s.mu.Lock()
	s.callCounts[method]++
	s.mu.Unlock()
}

// SaveClient implements storage.ClientStore.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	s.record("SaveClient")
	if s.SaveClientFunc != nil {
		return s.SaveClientFunc(ctx, client)
	}
	return s.Backend.SaveClient(ctx, client)
}

// GetClient implements storage.ClientStore.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.record("GetClient")
	if s.GetClientFunc != nil {
		return s.GetClientFunc(ctx, clientID)
	}
	return s.Backend.GetClient(ctx, clientID)
}

// ListClients implements storage.ClientStore.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.record("ListClients")
	return s.Backend.ListClients(ctx)
}

// SaveUser implements storage.UserStore.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	s.record("SaveUser")
	if s.SaveUserFunc != nil {
		return s.SaveUserFunc(ctx, user)
	}
	return s.Backend.SaveUser(ctx, user)
}

// GetUser implements storage.UserStore.
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	s.record("GetUser")
	return s.Backend.GetUser(ctx, userID)
}

// GetUserByUsername implements storage.UserStore.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	s.record("GetUserByUsername")
	if s.GetUserByUsernameFunc != nil {
		return s.GetUserByUsernameFunc(ctx, username)
	}
	return s.Backend.GetUserByUsername(ctx, username)
}

// SaveAuthorizationCode implements storage.FlowStore.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	s.record("SaveAuthorizationCode")
	if s.SaveAuthorizationCodeFunc != nil {
		return s.SaveAuthorizationCodeFunc(ctx, code)
	}
	return s.Backend.SaveAuthorizationCode(ctx, code)
}

// GetAuthorizationCode implements storage.FlowStore.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.record("GetAuthorizationCode")
	return s.Backend.GetAuthorizationCode(ctx, code)
}

// ConsumeAuthorizationCode implements storage.FlowStore.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time, check storage.CodeCheck) (*storage.AuthorizationCode, error) {
	s.record("ConsumeAuthorizationCode")
	if s.ConsumeAuthorizationCodeFunc != nil {
		return s.ConsumeAuthorizationCodeFunc(ctx, code, now, check)
	}
	return s.Backend.ConsumeAuthorizationCode(ctx, code, now, check)
}

// RevokeAuthorizationCode implements storage.FlowStore.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) (bool, error) {
	s.record("RevokeAuthorizationCode")
	return s.Backend.RevokeAuthorizationCode(ctx, code)
}

// SaveTokenPair implements storage.TokenStore.
func (s *Store) SaveTokenPair(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) error {
	s.record("SaveTokenPair")
	if s.SaveTokenPairFunc != nil {
		return s.SaveTokenPairFunc(ctx, access, refresh)
	}
	return s.Backend.SaveTokenPair(ctx, access, refresh)
}

// GetAccessToken implements storage.TokenStore.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	s.record("GetAccessToken")
	if s.GetAccessTokenFunc != nil {
		return s.GetAccessTokenFunc(ctx, token)
	}
	return s.Backend.GetAccessToken(ctx, token)
}

// GetRefreshToken implements storage.TokenStore.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	s.record("GetRefreshToken")
	return s.Backend.GetRefreshToken(ctx, token)
}

// ConsumeRefreshToken implements storage.TokenStore.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string, now time.Time, check storage.RefreshCheck) (*storage.RefreshToken, error) {
	s.record("ConsumeRefreshToken")
	if s.ConsumeRefreshTokenFunc != nil {
		return s.ConsumeRefreshTokenFunc(ctx, token, now, check)
	}
	return s.Backend.ConsumeRefreshToken(ctx, token, now, check)
}

// RevokeAccessToken implements storage.TokenStore.
func (s *Store) RevokeAccessToken(ctx context.Context, token string) (bool, error) {
	s.record("RevokeAccessToken")
	return s.Backend.RevokeAccessToken(ctx, token)
}

// RevokeRefreshToken implements storage.TokenStore.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	s.record("RevokeRefreshToken")
	return s.Backend.RevokeRefreshToken(ctx, token)
}

// RevokeGrant implements storage.TokenStore.
func (s *Store) RevokeGrant(ctx context.Context, grantID string) (int, error) {
	s.record("RevokeGrant")
	if s.RevokeGrantFunc != nil {
		return s.RevokeGrantFunc(ctx, grantID)
	}
	return s.Backend.RevokeGrant(ctx, grantID)
}

// Stats implements storage.StatsProvider.
func (s *Store) Stats(ctx context.Context) storage.Stats {
	return s.Backend.Stats(ctx)
}
