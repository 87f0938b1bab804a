package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/mcp-pkce-authserver/internal/testutil"
	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
	"github.com/giantswarm/mcp-pkce-authserver/storage/memory"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

const (
	testIssuer      = "https://auth.example.com"
	testRedirectURI = testutil.TestRedirectURI
	testUserID      = "user-1"
)

var testStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// testEnv holds a server wired to a memory store and a controllable clock
type testEnv struct {
	srv    *Server
	store  *memory.Store
	clock  *testutil.MockTime
	logBuf *bytes.Buffer
}

func newTestEnv(t *testing.T, configure func(*Config)) *testEnv {
	t.Helper()

	config := &Config{Issuer: testIssuer}
	if configure != nil {
		configure(config)
	}

	env := &testEnv{
		store:  memory.New(),
		clock:  testutil.NewMockTime(testStart),
		logBuf: &bytes.Buffer{},
	}
	env.store.SetClock(env.clock.Now)

	logger := slog.New(slog.NewTextHandler(env.logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	signer, err := tokens.GenerateSigner(config.Issuer)
	if err != nil {
		t.Fatalf("GenerateSigner() error = %v", err)
	}

	srv, err := New(env.store, env.store, env.store, env.store, signer, config, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv.SetClock(env.clock.Now)
	srv.SetAuditor(security.NewAuditor(logger, true))
	env.srv = srv
	return env
}

// registerClient registers a public client for testRedirectURI with read and write scopes
func (env *testEnv) registerClient(t *testing.T) *storage.Client {
	t.Helper()
	client, _, err := env.srv.RegisterClient(context.Background(), ClientRegistration{
		ClientName:   "Test Client",
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"read", "write"},
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	return client
}

// authorize issues an S256 authorization code for client and returns it with its verifier
func (env *testEnv) authorize(t *testing.T, client *storage.Client) (code, verifier string) {
	t.Helper()
	challenge, verifier := testutil.GeneratePKCEPair()
	authCode, err := env.srv.StartAuthorization(context.Background(), AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"read"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
		UserID:              testUserID,
	})
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	return authCode.Code, verifier
}

// issueTokens runs the full code flow and returns the token response
func (env *testEnv) issueTokens(t *testing.T, client *storage.Client) *TokenResponse {
	t.Helper()
	code, verifier := env.authorize(t, client)
	resp, err := env.srv.ExchangeCode(context.Background(), code, client.ClientID, verifier, testRedirectURI, "")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	return resp
}

// requireOAuthError asserts err is an *Error with the given code
func requireOAuthError(t *testing.T, err error, code string) *Error {
	t.Helper()
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		t.Fatalf("error = %v (%T), want *Error with code %q", err, err, code)
	}
	if oauthErr.Code != code {
		t.Fatalf("error code = %q, want %q (description: %s)", oauthErr.Code, code, oauthErr.Description)
	}
	return oauthErr
}

func TestNew(t *testing.T) {
	env := newTestEnv(t, nil)

	if env.srv.Config.Issuer != testIssuer {
		t.Errorf("Issuer = %q, want %q", env.srv.Config.Issuer, testIssuer)
	}
	if env.srv.Logger == nil {
		t.Error("Logger should not be nil")
	}
	if env.srv.Signer() == nil {
		t.Error("Signer() should not be nil")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	env := newTestEnv(t, nil)
	cfg := env.srv.Config

	if cfg.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", cfg.AuthorizationCodeTTL)
	}
	if cfg.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7776000 {
		t.Errorf("RefreshTokenTTL = %d, want 7776000", cfg.RefreshTokenTTL)
	}
	if cfg.ClockSkewGracePeriod != 0 {
		t.Errorf("ClockSkewGracePeriod = %d, want 0", cfg.ClockSkewGracePeriod)
	}
	if cfg.AllowPKCEPlain {
		t.Error("AllowPKCEPlain should default to false")
	}
	if len(cfg.DefaultScopes) != 1 || cfg.DefaultScopes[0] != "read" {
		t.Errorf("DefaultScopes = %v, want [read]", cfg.DefaultScopes)
	}
	if cfg.ResourceURL != testIssuer+"/mcp" {
		t.Errorf("ResourceURL = %q, want %q", cfg.ResourceURL, testIssuer+"/mcp")
	}
}

func TestNew_Validation(t *testing.T) {
	store := memory.New()
	signer, err := tokens.GenerateSigner(testIssuer)
	if err != nil {
		t.Fatalf("GenerateSigner() error = %v", err)
	}
	otherSigner, _ := tokens.GenerateSigner("https://other.example.com")

	tests := []struct {
		name    string
		build   func() (*Server, error)
		wantErr string
	}{
		{
			name: "missing client store",
			build: func() (*Server, error) {
				return New(nil, store, store, store, signer, &Config{Issuer: testIssuer}, nil)
			},
			wantErr: "client store",
		},
		{
			name: "missing token store",
			build: func() (*Server, error) {
				return New(store, store, store, nil, signer, &Config{Issuer: testIssuer}, nil)
			},
			wantErr: "token store",
		},
		{
			name: "missing signer",
			build: func() (*Server, error) {
				return New(store, store, store, store, nil, &Config{Issuer: testIssuer}, nil)
			},
			wantErr: "signer",
		},
		{
			name: "missing issuer",
			build: func() (*Server, error) {
				return New(store, store, store, store, signer, nil, nil)
			},
			wantErr: "issuer is required",
		},
		{
			name: "signer issuer mismatch",
			build: func() (*Server, error) {
				return New(store, store, store, store, otherSigner, &Config{Issuer: testIssuer}, nil)
			},
			wantErr: "does not match",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateHTTPSEnforcement(t *testing.T) {
	tests := []struct {
		name              string
		issuer            string
		allowInsecureHTTP bool
		wantErr           bool
	}{
		{name: "https", issuer: "https://auth.example.com"},
		{name: "http localhost", issuer: "http://localhost:8080"},
		{name: "http loopback IP", issuer: "http://127.0.0.1:8080"},
		{name: "http IPv6 loopback", issuer: "http://[::1]:8080"},
		{name: "http remote rejected", issuer: "http://auth.example.com", wantErr: true},
		{name: "http remote allowed explicitly", issuer: "http://auth.example.com", allowInsecureHTTP: true},
		{name: "unknown scheme", issuer: "ftp://auth.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			signer, err := tokens.GenerateSigner(tt.issuer)
			if err != nil {
				t.Fatalf("GenerateSigner() error = %v", err)
			}
			config := &Config{Issuer: tt.issuer, AllowInsecureHTTP: tt.allowInsecureHTTP}
			logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

			_, err = New(store, store, store, store, signer, config, logger)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetadata(t *testing.T) {
	env := newTestEnv(t, nil)
	md := env.srv.Metadata()

	if md.TokenEndpoint != testIssuer+"/token" {
		t.Errorf("TokenEndpoint = %q", md.TokenEndpoint)
	}
	if len(md.ResponseTypesSupported) != 1 || md.ResponseTypesSupported[0] != "code" {
		t.Errorf("ResponseTypesSupported = %v, want [code]", md.ResponseTypesSupported)
	}
	if len(md.CodeChallengeMethodsSupported) != 1 || md.CodeChallengeMethodsSupported[0] != PKCEMethodS256 {
		t.Errorf("CodeChallengeMethodsSupported = %v, want [S256]", md.CodeChallengeMethodsSupported)
	}

	plainEnv := newTestEnv(t, func(c *Config) { c.AllowPKCEPlain = true })
	methods := plainEnv.srv.Metadata().CodeChallengeMethodsSupported
	if len(methods) != 2 || methods[1] != PKCEMethodPlain {
		t.Errorf("CodeChallengeMethodsSupported with plain = %v, want [S256 plain]", methods)
	}

	rm := env.srv.ResourceMetadata()
	if rm.Resource != testIssuer+"/mcp" || rm.AuthorizationServers[0] != testIssuer {
		t.Errorf("ResourceMetadata() = %+v", rm)
	}
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	client, _, err := env.srv.RegisterClient(ctx, ClientRegistration{
		ClientName:   "e2e",
		RedirectURIs: []string{"https://app.example/cb"},
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	verifier := strings.Repeat("a", 43)
	challenge := S256Challenge(verifier)

	authCode, err := env.srv.StartAuthorization(ctx, AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         "https://app.example/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
		UserID:              testUserID,
	})
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}

	resp, err := env.srv.ExchangeCode(ctx, authCode.Code, client.ClientID, verifier, "https://app.example/cb", "")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("access_token is empty")
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", resp.ExpiresIn)
	}
	if resp.TokenType != TokenTypeBearer {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}

	info, err := env.srv.Introspect(ctx, resp.AccessToken, "")
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if !info.Active {
		t.Error("introspection of a fresh access token should be active")
	}
	if info.Subject != testUserID || info.ClientID != client.ClientID || info.Scope != "read" {
		t.Errorf("Introspect() = %+v", info)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)

	public := env.registerClient(t)
	if _, _, err := env.srv.RegisterClient(ctx, ClientRegistration{
		RedirectURIs:            []string{testRedirectURI},
		TokenEndpointAuthMethod: TokenEndpointAuthMethodBasic,
	}); err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	env.issueTokens(t, public)

	stats, ok := env.srv.Stats(ctx)
	if !ok {
		t.Fatal("Stats() ok = false for the memory store")
	}
	want := storage.Stats{Clients: 2, ConfidentialClients: 1, AuthorizationCodes: 1, AccessTokens: 1, RefreshTokens: 1}
	if stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}
}
