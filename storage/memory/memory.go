package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
)

const (
	// tokenIDLogLength is the number of characters of a code or token included in logs
	tokenIDLogLength = 8

	// pruneEvery is the number of inserts between two opportunistic prunes of expired entries
	pruneEvery = 256
)

// Compile-time interface checks
var (
	_ storage.ClientStore   = (*Store)(nil)
	_ storage.UserStore     = (*Store)(nil)
	_ storage.FlowStore     = (*Store)(nil)
	_ storage.TokenStore    = (*Store)(nil)
	_ storage.StatsProvider = (*Store)(nil)
)

// Store is an in-memory implementation of all storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	users         map[string]*storage.User
	usersByName   map[string]string // username -> user ID
	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	inserts     int
	gracePeriod time.Duration
	now         func() time.Time

	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

// New creates an empty store.
func New() *Store {
	return &Store{
		clients:       make(map[string]*storage.Client),
		users:         make(map[string]*storage.User),
		usersByName:   make(map[string]string),
		codes:         make(map[string]*storage.AuthorizationCode),
		accessTokens:  make(map[string]*storage.AccessToken),
		refreshTokens: make(map[string]*storage.RefreshToken),
		now:           time.Now,
		logger:        slog.Default(),
		tracer:        tracenoop.NewTracerProvider().Tracer("storage"),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClockSkewGracePeriod sets how long past expiresAt an entry is still accepted.
func (s *Store) SetClockSkewGracePeriod(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gracePeriod = d
}

// SetClock replaces the time source used by RevokeAuthorizationCode and pruning.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetInstrumentation enables tracing and metrics for store operations and
// registers the storage size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	s.tracer = inst.Tracer("storage")
	s.mu.Unlock()

	if err := inst.RegisterStorageSizeCallback(func() instrumentation.StorageSizes {
		st := s.Stats(context.Background())
		return instrumentation.StorageSizes{
			Clients:       int64(st.Clients),
			Users:         int64(st.Users),
			Codes:         int64(st.AuthorizationCodes),
			AccessTokens:  int64(st.AccessTokens),
			RefreshTokens: int64(st.RefreshTokens),
		}
	}); err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient inserts a client if its ID is not taken.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, done := s.startOperation(ctx, "save_client")
	defer func() { done(ctx, err) }()

	if client == nil {
		return fmt.Errorf("client cannot be nil")
	}
	if client.ClientID == "" {
		return fmt.Errorf("client ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		return fmt.Errorf("client %s: %w", client.ClientID, storage.ErrAlreadyExists)
	}
	s.clients[client.ClientID] = cloneClient(client)

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, done := s.startOperation(ctx, "get_client")
	defer func() { done(ctx, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return cloneClient(client), nil
}

// ListClients returns every registered client
func (s *Store) ListClients(ctx context.Context) (_ []*storage.Client, err error) {
	ctx, done := s.startOperation(ctx, "list_clients")
	defer func() { done(ctx, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, cloneClient(c))
	}
	return clients, nil
}

// ============================================================
// UserStore Implementation
// ============================================================

// SaveUser inserts a user if neither the ID nor the username is taken.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	ctx, done := s.startOperation(ctx, "save_user")
	defer func() { done(ctx, err) }()

	if user == nil || user.ID == "" || user.Username == "" {
		return fmt.Errorf("user ID and username are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s: %w", user.ID, storage.ErrAlreadyExists)
	}
	if _, exists := s.usersByName[user.Username]; exists {
		return fmt.Errorf("username %s: %w", user.Username, storage.ErrAlreadyExists)
	}

	u := *user
	s.users[user.ID] = &u
	s.usersByName[user.Username] = user.ID
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (_ *storage.User, err error) {
	ctx, done := s.startOperation(ctx, "get_user")
	defer func() { done(ctx, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByUsername retrieves a user by login name
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	ctx, done := s.startOperation(ctx, "get_user_by_username")
	defer func() { done(ctx, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode inserts a freshly minted code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.startOperation(ctx, "save_authorization_code")
	defer func() { done(ctx, err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return fmt.Errorf("authorization code: %w", storage.ErrAlreadyExists)
	}
	s.codes[code.Code] = cloneCode(code)
	s.afterInsertLocked()

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode returns a copy of the stored code regardless of its state.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.startOperation(ctx, "get_authorization_code")
	defer func() { done(ctx, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return cloneCode(c), nil
}

// ConsumeAuthorizationCode atomically validates and marks a code used.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time, check storage.CodeCheck) (_ *storage.AuthorizationCode, err error) {
	ctx, done := s.startOperation(ctx, "consume_authorization_code")
	defer func() { done(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if c.Used {
		// returned so the caller can revoke what was issued from it
		return cloneCode(c), storage.ErrAuthorizationCodeUsed
	}
	if c.Revoked {
		return nil, storage.ErrAuthorizationCodeRevoked
	}
	if security.IsExpired(c.ExpiresAt, now, s.gracePeriod) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrTokenExpired)
	}

	if check != nil {
		if err := check(cloneCode(c)); err != nil {
			return nil, err
		}
	}

	c.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	return cloneCode(c), nil
}

// RevokeAuthorizationCode moves an unexchanged, unexpired code to REVOKED.
func (s *Store) RevokeAuthorizationCode(ctx context.Context, code string) (_ bool, err error) {
	ctx, done := s.startOperation(ctx, "revoke_authorization_code")
	defer func() { done(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok || c.State(s.now()) != storage.CodeStateIssued {
		return false, nil
	}
	c.Revoked = true
	return true, nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveTokenPair inserts an access token and its refresh token together.
func (s *Store) SaveTokenPair(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) (err error) {
	ctx, done := s.startOperation(ctx, "save_token_pair")
	defer func() { done(ctx, err) }()

	if access == nil || refresh == nil || access.Token == "" || refresh.Token == "" {
		return fmt.Errorf("access and refresh token are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[access.Token]; exists {
		return fmt.Errorf("access token: %w", storage.ErrAlreadyExists)
	}
	if _, exists := s.refreshTokens[refresh.Token]; exists {
		return fmt.Errorf("refresh token: %w", storage.ErrAlreadyExists)
	}

	a := cloneAccess(access)
	r := cloneRefresh(refresh)
	a.RefreshToken = r.Token
	r.AccessToken = a.Token

	s.accessTokens[a.Token] = a
	s.refreshTokens[r.Token] = r
	s.afterInsertLocked()
	return nil
}

// GetAccessToken returns the side-table record for an access token.
// Expired records are returned too; callers compare ExpiresAt with their clock.
func (s *Store) GetAccessToken(ctx context.Context, token string) (_ *storage.AccessToken, err error) {
	ctx, done := s.startOperation(ctx, "get_access_token")
	defer func() { done(ctx, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accessTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return cloneAccess(a), nil
}

// GetRefreshToken returns the record for a refresh token.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (_ *storage.RefreshToken, err error) {
	ctx, done := s.startOperation(ctx, "get_refresh_token")
	defer func() { done(ctx, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return cloneRefresh(r), nil
}

// ConsumeRefreshToken atomically validates a refresh token and deletes it
// together with its paired access token.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string, now time.Time, check storage.RefreshCheck) (_ *storage.RefreshToken, err error) {
	ctx, done := s.startOperation(ctx, "consume_refresh_token")
	defer func() { done(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if security.IsExpired(r.ExpiresAt, now, s.gracePeriod) {
		s.deleteRefreshLocked(r)
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrTokenExpired)
	}

	if check != nil {
		if err := check(cloneRefresh(r)); err != nil {
			return nil, err
		}
	}

	s.deleteRefreshLocked(r)
	s.logger.Debug("Consumed refresh token",
		"token_prefix", util.SafeTruncate(token, tokenIDLogLength),
		"client_id", r.ClientID)

	return cloneRefresh(r), nil
}

// RevokeAccessToken removes an access token and its paired refresh token.
func (s *Store) RevokeAccessToken(ctx context.Context, token string) (_ bool, err error) {
	ctx, done := s.startOperation(ctx, "revoke_access_token")
	defer func() { done(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accessTokens[token]
	if !ok {
		return false, nil
	}
	s.deleteAccessLocked(a)
	return true, nil
}

// RevokeRefreshToken removes a refresh token and its paired access token.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) (_ bool, err error) {
	ctx, done := s.startOperation(ctx, "revoke_refresh_token")
	defer func() { done(ctx, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refreshTokens[token]
	if !ok {
		return false, nil
	}
	s.deleteRefreshLocked(r)
	return true, nil
}

// RevokeGrant removes every access and refresh token carrying grantID.
func (s *Store) RevokeGrant(ctx context.Context, grantID string) (_ int, err error) {
	ctx, done := s.startOperation(ctx, "revoke_grant")
	defer func() { done(ctx, err) }()

	if grantID == "" {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for key, a := range s.accessTokens {
		if a.GrantID == grantID {
			delete(s.accessTokens, key)
			revoked++
		}
	}
	for key, r := range s.refreshTokens {
		if r.GrantID == grantID {
			delete(s.refreshTokens, key)
			revoked++
		}
	}
	return revoked, nil
}

// ============================================================
// Maintenance
// ============================================================

// Stats returns the number of entities currently held.
func (s *Store) Stats(_ context.Context) storage.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return storage.Stats{
		Clients:            len(s.clients),
		Users:              len(s.users),
		AuthorizationCodes: len(s.codes),
		AccessTokens:       len(s.accessTokens),
		RefreshTokens:      len(s.refreshTokens),
	}
}

// DeleteExpired removes codes and tokens that expired before now and
// returns how many entries were removed.
func (s *Store) DeleteExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteExpiredLocked(now)
}

func (s *Store) afterInsertLocked() {
	s.inserts++
	if s.inserts%pruneEvery == 0 {
		if n := s.deleteExpiredLocked(s.now()); n > 0 {
			s.logger.Debug("Pruned expired entries", "count", n)
		}
	}
}

func (s *Store) deleteExpiredLocked(now time.Time) int {
	removed := 0
	for key, c := range s.codes {
		if security.IsExpired(c.ExpiresAt, now, s.gracePeriod) {
			delete(s.codes, key)
			removed++
		}
	}
	for key, a := range s.accessTokens {
		if security.IsExpired(a.ExpiresAt, now, s.gracePeriod) {
			delete(s.accessTokens, key)
			removed++
		}
	}
	for key, r := range s.refreshTokens {
		if security.IsExpired(r.ExpiresAt, now, s.gracePeriod) {
			delete(s.refreshTokens, key)
			removed++
		}
	}
	return removed
}

func (s *Store) deleteAccessLocked(a *storage.AccessToken) {
	delete(s.accessTokens, a.Token)
	if r, ok := s.refreshTokens[a.RefreshToken]; ok && r.AccessToken == a.Token {
		delete(s.refreshTokens, r.Token)
	}
}

func (s *Store) deleteRefreshLocked(r *storage.RefreshToken) {
	delete(s.refreshTokens, r.Token)
	if a, ok := s.accessTokens[r.AccessToken]; ok && a.RefreshToken == r.Token {
		delete(s.accessTokens, a.Token)
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startOperation starts a span for a storage operation and returns the
// function recording its outcome.
func (s *Store) startOperation(ctx context.Context, operation string) (context.Context, func(context.Context, error)) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(attribute.String("operation", operation)))
	start := time.Now()

	return ctx, func(ctx context.Context, err error) {
		defer span.End()

		result := "success"
		if err != nil {
			result = "error"
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
	}
}

// ============================================================
// Copy helpers
// ============================================================

func cloneClient(c *storage.Client) *storage.Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.Scopes = append([]string(nil), c.Scopes...)
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	cp.ResponseTypes = append([]string(nil), c.ResponseTypes...)
	return &cp
}

func cloneCode(c *storage.AuthorizationCode) *storage.AuthorizationCode {
	cp := *c
	cp.Scopes = append([]string(nil), c.Scopes...)
	return &cp
}

func cloneAccess(a *storage.AccessToken) *storage.AccessToken {
	cp := *a
	cp.Scopes = append([]string(nil), a.Scopes...)
	return &cp
}

func cloneRefresh(r *storage.RefreshToken) *storage.RefreshToken {
	cp := *r
	cp.Scopes = append([]string(nil), r.Scopes...)
	return &cp
}
