package server

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/mcp-pkce-authserver/internal/testutil"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
)

func TestStartAuthorization(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	challenge, _ := testutil.GeneratePKCEPair()

	authCode, err := env.srv.StartAuthorization(ctx, AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"write", "read", "write"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
		UserID:              testUserID,
	})
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}

	if len(authCode.Code) < 43 {
		t.Errorf("code %q is shorter than 43 characters", authCode.Code)
	}
	if got := authCode.ExpiresAt.Sub(testStart); got != 10*time.Minute {
		t.Errorf("code lifetime = %v, want 10m", got)
	}
	if got := authCode.State(testStart); got != storage.CodeStateIssued {
		t.Errorf("State() = %s, want %s", got, storage.CodeStateIssued)
	}
	if strings.Join(authCode.Scopes, " ") != "write read" {
		t.Errorf("Scopes = %v, want [write read]", authCode.Scopes)
	}
	if authCode.UserID != testUserID || authCode.CodeChallenge != challenge {
		t.Errorf("code not bound to user and challenge: %+v", authCode)
	}
}

func TestStartAuthorization_DefaultsToClientScopes(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	challenge, _ := testutil.GeneratePKCEPair()

	authCode, err := env.srv.StartAuthorization(context.Background(), AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         testRedirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: PKCEMethodS256,
		UserID:              testUserID,
	})
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	if strings.Join(authCode.Scopes, " ") != "read write" {
		t.Errorf("Scopes = %v, want client scopes [read write]", authCode.Scopes)
	}
}

func TestStartAuthorization_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	challenge, _ := testutil.GeneratePKCEPair()

	valid := func() AuthorizationRequest {
		return AuthorizationRequest{
			ClientID:            client.ClientID,
			RedirectURI:         testRedirectURI,
			Scopes:              []string{"read"},
			CodeChallenge:       challenge,
			CodeChallengeMethod: PKCEMethodS256,
			UserID:              testUserID,
		}
	}

	tests := []struct {
		name     string
		mutate   func(*AuthorizationRequest)
		wantCode string
	}{
		{name: "unknown client", mutate: func(r *AuthorizationRequest) { r.ClientID = "unknown" }, wantCode: ErrorCodeInvalidClient},
		{name: "unregistered redirect URI", mutate: func(r *AuthorizationRequest) { r.RedirectURI = "https://evil.example/cb" }, wantCode: ErrorCodeInvalidRequest},
		{name: "redirect URI prefix match", mutate: func(r *AuthorizationRequest) { r.RedirectURI = testRedirectURI + "/extra" }, wantCode: ErrorCodeInvalidRequest},
		{name: "redirect URI trailing slash", mutate: func(r *AuthorizationRequest) { r.RedirectURI = testRedirectURI + "/" }, wantCode: ErrorCodeInvalidRequest},
		{name: "missing challenge", mutate: func(r *AuthorizationRequest) { r.CodeChallenge = "" }, wantCode: ErrorCodeInvalidRequest},
		{name: "plain method disabled", mutate: func(r *AuthorizationRequest) {
			r.CodeChallenge = strings.Repeat("a", 43)
			r.CodeChallengeMethod = PKCEMethodPlain
		}, wantCode: ErrorCodeInvalidRequest},
		{name: "unknown method", mutate: func(r *AuthorizationRequest) { r.CodeChallengeMethod = "S512" }, wantCode: ErrorCodeInvalidRequest},
		{name: "scope outside client set", mutate: func(r *AuthorizationRequest) { r.Scopes = []string{"read", "admin"} }, wantCode: ErrorCodeInvalidScope},
		{name: "unauthenticated user", mutate: func(r *AuthorizationRequest) { r.UserID = "" }, wantCode: ErrorCodeAccessDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			_, err := env.srv.StartAuthorization(context.Background(), req)
			requireOAuthError(t, err, tt.wantCode)
		})
	}

	if stats := env.store.Stats(context.Background()); stats.AuthorizationCodes != 0 {
		t.Errorf("rejected requests stored %d codes", stats.AuthorizationCodes)
	}
}

func TestStartAuthorization_PlainAllowed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *Config) { c.AllowPKCEPlain = true })
	client := env.registerClient(t)
	verifier := testutil.GenerateRandomString(64)

	authCode, err := env.srv.StartAuthorization(ctx, AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         testRedirectURI,
		CodeChallenge:       verifier,
		CodeChallengeMethod: PKCEMethodPlain,
		UserID:              testUserID,
	})
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}

	if _, err := env.srv.ExchangeCode(ctx, authCode.Code, client.ClientID, verifier, testRedirectURI, ""); err != nil {
		t.Errorf("ExchangeCode() with plain verifier error = %v", err)
	}
}

func TestExchangeCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	code, verifier := env.authorize(t, client)

	resp, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, "")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("ExchangeCode() returned incomplete tokens: %+v", resp)
	}
	if resp.ExpiresIn != 3600 || resp.Scope != "read" || resp.TokenType != "Bearer" {
		t.Errorf("ExchangeCode() = %+v", resp)
	}

	claims, err := env.srv.Signer().Parse(resp.AccessToken, testStart)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if claims.Subject != testUserID || claims.ClientID != client.ClientID || claims.Issuer != testIssuer {
		t.Errorf("claims = %+v", claims)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != client.ClientID {
		t.Errorf("aud = %v, want [%s]", claims.Audience, client.ClientID)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("exp - iat = %v, want 1h", got)
	}

	stored, _ := env.store.GetAuthorizationCode(ctx, code)
	if got := stored.State(testStart); got != storage.CodeStateExchanged {
		t.Errorf("code state = %s, want %s", got, storage.CodeStateExchanged)
	}
}

func TestExchangeCode_SingleUse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	code, verifier := env.authorize(t, client)

	if _, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, ""); err != nil {
		t.Fatalf("first ExchangeCode() error = %v", err)
	}

	for i := range 3 {
		_, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, "")
		if err == nil {
			t.Fatalf("replay %d succeeded", i)
		}
		requireOAuthError(t, err, ErrorCodeInvalidGrant)
	}
}

func TestExchangeCode_ConcurrentSingleUse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	code, verifier := env.authorize(t, client)

	const workers = 16
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		successes atomic.Int32
		failures  atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, "")
			if err == nil {
				successes.Add(1)
			} else {
				failures.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Errorf("%d concurrent exchanges succeeded, want exactly 1", successes.Load())
	}
	if failures.Load() != workers-1 {
		t.Errorf("%d exchanges failed, want %d", failures.Load(), workers-1)
	}
}

func TestExchangeCode_PKCEMutation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	code, verifier := env.authorize(t, client)

	mutated := []byte(verifier)
	if mutated[10] == 'A' {
		mutated[10] = 'B'
	} else {
		mutated[10] = 'A'
	}

	_, err := env.srv.ExchangeCode(ctx, code, client.ClientID, string(mutated), testRedirectURI, "")
	requireOAuthError(t, err, ErrorCodeInvalidGrant)

	// the failed attempt does not consume the code
	if _, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, ""); err != nil {
		t.Errorf("ExchangeCode() with correct verifier after a failed attempt error = %v", err)
	}
}

func TestExchangeCode_Expiry(t *testing.T) {
	ctx := context.Background()

	t.Run("just before expiry", func(t *testing.T) {
		env := newTestEnv(t, nil)
		client := env.registerClient(t)
		code, verifier := env.authorize(t, client)

		env.clock.Advance(10*time.Minute - time.Second)
		if _, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, ""); err != nil {
			t.Errorf("ExchangeCode() before expiry error = %v", err)
		}
	})

	t.Run("at expiry", func(t *testing.T) {
		env := newTestEnv(t, nil)
		client := env.registerClient(t)
		code, verifier := env.authorize(t, client)

		env.clock.Advance(10 * time.Minute)
		_, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, "")
		requireOAuthError(t, err, ErrorCodeInvalidGrant)

		stored, _ := env.store.GetAuthorizationCode(ctx, code)
		if got := stored.State(env.clock.Now()); got != storage.CodeStateExpired {
			t.Errorf("code state = %s, want %s", got, storage.CodeStateExpired)
		}
	})

	t.Run("within grace period", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.ClockSkewGracePeriod = 5 })
		client := env.registerClient(t)
		code, verifier := env.authorize(t, client)

		env.clock.Advance(10*time.Minute + 3*time.Second)
		if _, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, ""); err != nil {
			t.Errorf("ExchangeCode() within grace period error = %v", err)
		}
	})
}

func TestExchangeCode_BindingMismatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	other := env.registerClient(t)

	tests := []struct {
		name        string
		clientID    string
		redirectURI string
	}{
		{name: "trailing slash", clientID: client.ClientID, redirectURI: testRedirectURI + "/"},
		{name: "different path", clientID: client.ClientID, redirectURI: "https://app.example/callback"},
		{name: "case difference", clientID: client.ClientID, redirectURI: "https://APP.example/cb"},
		{name: "empty redirect", clientID: client.ClientID, redirectURI: ""},
		{name: "different client", clientID: other.ClientID, redirectURI: testRedirectURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, verifier := env.authorize(t, client)

			_, err := env.srv.ExchangeCode(ctx, code, tt.clientID, verifier, tt.redirectURI, "")
			oauthErr := requireOAuthError(t, err, ErrorCodeInvalidGrant)
			if oauthErr.Description != invalidGrantDescription {
				t.Errorf("Description = %q, want the generic description", oauthErr.Description)
			}
		})
	}
}

func TestExchangeCode_GenericErrorForEveryReason(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client := env.registerClient(t)

	_, errUnknown := env.srv.ExchangeCode(ctx, "unknown-code", client.ClientID, strings.Repeat("a", 43), testRedirectURI, "")

	code, _ := env.authorize(t, client)
	_, errVerifier := env.srv.ExchangeCode(ctx, code, client.ClientID, strings.Repeat("b", 43), testRedirectURI, "")

	if errUnknown.Error() != errVerifier.Error() {
		t.Errorf("errors differ: %q vs %q", errUnknown, errVerifier)
	}
}

func TestExchangeCode_MissingParameters(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	code, _ := env.authorize(t, client)

	_, err := env.srv.ExchangeCode(context.Background(), "", client.ClientID, strings.Repeat("a", 43), testRedirectURI, "")
	requireOAuthError(t, err, ErrorCodeInvalidRequest)

	_, err = env.srv.ExchangeCode(context.Background(), code, client.ClientID, "", testRedirectURI, "")
	requireOAuthError(t, err, ErrorCodeInvalidRequest)
}

func TestExchangeCode_ReuseRevokesGrant(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	code, verifier := env.authorize(t, client)

	resp, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, "")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	rotated, err := env.srv.Refresh(ctx, resp.RefreshToken, client.ClientID, nil, "")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	_, err = env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, "")
	requireOAuthError(t, err, ErrorCodeInvalidGrant)

	info, _ := env.srv.Introspect(ctx, rotated.AccessToken, "")
	if info.Active {
		t.Error("tokens descending from a replayed code should be revoked")
	}
	if _, err := env.srv.Refresh(ctx, rotated.RefreshToken, client.ClientID, nil, ""); err == nil {
		t.Error("refresh token descending from a replayed code should be revoked")
	}
	if !strings.Contains(env.logBuf.String(), "authorization_code_reuse_detected") {
		t.Error("expected an audit event for code reuse")
	}
}

func TestExchangeCode_ReuseRevocationDisabled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(c *Config) { c.DisableCodeReuseRevocation = true })
	client := env.registerClient(t)
	code, verifier := env.authorize(t, client)

	resp, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, "")
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	_, err = env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, "")
	requireOAuthError(t, err, ErrorCodeInvalidGrant)

	info, _ := env.srv.Introspect(ctx, resp.AccessToken, "")
	if !info.Active {
		t.Error("access token should stay active when reuse revocation is disabled")
	}
}

func TestExchangeCode_RevokedCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	client := env.registerClient(t)
	code, verifier := env.authorize(t, client)

	if err := env.srv.Revoke(ctx, code, "", "", ""); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	stored, _ := env.store.GetAuthorizationCode(ctx, code)
	if got := stored.State(testStart); got != storage.CodeStateRevoked {
		t.Errorf("code state = %s, want %s", got, storage.CodeStateRevoked)
	}

	_, err := env.srv.ExchangeCode(ctx, code, client.ClientID, verifier, testRedirectURI, "")
	requireOAuthError(t, err, ErrorCodeInvalidGrant)
}
