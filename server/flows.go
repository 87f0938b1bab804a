package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
)

const grantTypeAuthorizationCode = "authorization_code"

// codeSaveAttempts bounds retries on authorization code collisions.
const codeSaveAttempts = 3

// AuthorizationRequest is a validated authorization request. UserID is the
// resource owner established by the caller's authentication step.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
	ClientIP            string
}

// grantCheckError carries the reason a code or refresh token was rejected
// inside the store's critical section.
type grantCheckError struct {
	reason string
}

func (e *grantCheckError) Error() string { return e.reason }

// StartAuthorization mints an authorization code bound to the client, the
// exact redirect URI, the PKCE challenge and the authenticated user.
//
// Errors: invalid_client for an unknown client, invalid_request for a
// redirect URI that is not registered byte-for-byte or a malformed PKCE
// challenge, invalid_scope for scopes outside the client's allowed set.
// Errors for an unknown client or unregistered redirect URI must not be
// delivered to the redirect URI.
func (s *Server) StartAuthorization(ctx context.Context, req AuthorizationRequest) (_ *storage.AuthorizationCode, err error) {
	ctx, span := s.tracer.Start(ctx, "oauth.start_authorization")
	defer span.End()
	defer func() { finishSpan(span, err) }()

	client, err := s.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventInvalidRedirect,
			ClientID:  client.ClientID,
			IPAddress: req.ClientIP,
			Details:   map[string]any{"redirect_uri": util.SafeTruncate(req.RedirectURI, 100)},
		})
		return nil, ErrInvalidRequest("redirect_uri is not registered for this client")
	}

	if req.UserID == "" {
		return nil, ErrAccessDenied("resource owner is not authenticated")
	}

	method, err := s.validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return nil, ErrInvalidRequest(err.Error())
	}

	scopes, err := s.resolveScopes(req.Scopes, client)
	if err != nil {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventScopeEscalationAttempt,
			UserID:    req.UserID,
			ClientID:  client.ClientID,
			IPAddress: req.ClientIP,
		})
		return nil, err
	}

	now := s.now()
	authCode := &storage.AuthorizationCode{
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		UserID:              req.UserID,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.AuthorizationCodeLifetime()),
	}

	for attempt := 0; ; attempt++ {
		authCode.Code = generateRandomToken()
		err = s.flowStore.SaveAuthorizationCode(ctx, authCode)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrAlreadyExists) || attempt+1 >= codeSaveAttempts {
			s.Logger.Error("Failed to save authorization code", "client_id", client.ClientID, "error", err)
			return nil, ErrServerError()
		}
	}

	scope := scopeString(scopes)
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, req.UserID, scope)
	span.SetAttributes(attribute.String(instrumentation.AttrPKCEMethod, method))
	s.instrumentation.Metrics().RecordAuthorizationStarted(ctx, client.ClientID)
	s.Auditor.LogCodeIssued(req.UserID, client.ClientID, req.ClientIP, scope)
	s.Logger.Info("Issued authorization code",
		"client_id", client.ClientID,
		"code_prefix", util.SafeTruncate(authCode.Code, tokenIDLogLength),
		"pkce_method", method,
		"scope", scope)

	return authCode, nil
}

// ExchangeCode redeems an authorization code for an access and refresh token pair.
//
// The checks run in order inside the store's critical section: the code
// exists, is unexpired and unused; it was issued to clientID; redirectURI
// matches exactly; the verifier satisfies the PKCE challenge. The code is
// marked used only if every check passes, so exactly one concurrent exchange
// can succeed. Every failure is reported as the same invalid_grant error.
//
// Presenting an already exchanged code revokes every token issued from it
// (OAuth 2.1 Section 4.1.3) unless Config.DisableCodeReuseRevocation is set.
func (s *Server) ExchangeCode(ctx context.Context, code, clientID, codeVerifier, redirectURI, clientIP string) (_ *TokenResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "oauth.exchange_code")
	defer span.End()
	defer func() { finishSpan(span, err) }()

	span.SetAttributes(attribute.String(instrumentation.AttrGrantType, grantTypeAuthorizationCode))
	instrumentation.AddOAuthFlowAttributes(span, clientID, "", "")

	if code == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if codeVerifier == "" {
		return nil, ErrInvalidRequest("code_verifier is required")
	}

	var pkceMethod string
	check := func(c *storage.AuthorizationCode) error {
		pkceMethod = c.CodeChallengeMethod
		switch {
		case c.ClientID != clientID:
			return &grantCheckError{reason: "client_id_mismatch"}
		case c.RedirectURI != redirectURI:
			return &grantCheckError{reason: "redirect_uri_mismatch"}
		}
		if err := s.verifyPKCE(codeVerifier, c.CodeChallenge, c.CodeChallengeMethod); err != nil {
			return &grantCheckError{reason: "pkce_validation_failed"}
		}
		return nil
	}

	authCode, err := s.flowStore.ConsumeAuthorizationCode(ctx, code, s.now(), check)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeUsed) && authCode != nil {
			s.handleCodeReuse(ctx, authCode, clientID, clientIP)
			span.SetAttributes(attribute.Bool(instrumentation.AttrCodeReuse, true))
			return nil, ErrInvalidGrant()
		}

		reason, internal := exchangeFailureReason(err)
		if internal {
			s.Logger.Error("Failed to consume authorization code", "client_id", clientID, "error", err)
			return nil, ErrServerError()
		}
		s.rejectGrant(ctx, grantTypeAuthorizationCode, reason, clientID, clientIP, code)
		if reason == "pkce_validation_failed" {
			s.instrumentation.Metrics().RecordPKCEValidationFailed(ctx, pkceMethod)
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventPKCEValidationFailed,
				ClientID:  clientID,
				IPAddress: clientIP,
				Details:   map[string]any{"method": pkceMethod},
			})
		}
		return nil, ErrInvalidGrant()
	}

	resp, err := s.issueTokenPair(ctx, grantIDForCode(authCode.Code), authCode.ClientID, authCode.UserID, authCode.Scopes)
	if err != nil {
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, authCode.ClientID, authCode.UserID, resp.Scope)
	span.SetAttributes(attribute.String(instrumentation.AttrPKCEMethod, authCode.CodeChallengeMethod))
	s.instrumentation.Metrics().RecordCodeExchange(ctx, authCode.ClientID, authCode.CodeChallengeMethod)
	s.Auditor.LogTokenIssued(authCode.UserID, authCode.ClientID, clientIP, resp.Scope)
	s.Logger.Info("Exchanged authorization code",
		"client_id", authCode.ClientID,
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength),
		"scope", resp.Scope)

	return resp, nil
}

// handleCodeReuse responds to a replayed authorization code.
func (s *Server) handleCodeReuse(ctx context.Context, authCode *storage.AuthorizationCode, clientID, clientIP string) {
	s.instrumentation.Metrics().RecordCodeReuseDetected(ctx)
	s.instrumentation.Metrics().RecordGrantRejected(ctx, grantTypeAuthorizationCode, "code_reused")

	revoked := 0
	if !s.Config.DisableCodeReuseRevocation {
		n, err := s.tokenStore.RevokeGrant(ctx, grantIDForCode(authCode.Code))
		if err != nil {
			s.Logger.Error("Failed to revoke tokens after code reuse detection", "error", err)
		}
		revoked = n
	}

	s.Auditor.LogCodeReuseDetected(authCode.UserID, clientID, clientIP, revoked)
	s.Logger.Warn("Authorization code reuse detected",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(authCode.Code, tokenIDLogLength),
		"tokens_revoked", revoked)
}

// rejectGrant records a rejected grant. The reason never reaches the client.
func (s *Server) rejectGrant(ctx context.Context, grantType, reason, clientID, clientIP, credential string) {
	s.instrumentation.Metrics().RecordGrantRejected(ctx, grantType, reason)
	s.Auditor.LogAuthFailure("", clientID, clientIP, reason)
	s.Logger.Debug("Grant rejected",
		"grant_type", grantType,
		"reason", reason,
		"client_id", clientID,
		"credential_prefix", util.SafeTruncate(credential, tokenIDLogLength))
}

// exchangeFailureReason maps a store or check error to a metric label.
// internal is true when the failure is not caused by the grant itself.
func exchangeFailureReason(err error) (reason string, internal bool) {
	var checkErr *grantCheckError
	switch {
	case errors.As(err, &checkErr):
		return checkErr.reason, false
	case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
		return "code_not_found", false
	case errors.Is(err, storage.ErrAuthorizationCodeRevoked):
		return "code_revoked", false
	case errors.Is(err, storage.ErrTokenExpired):
		return "code_expired", false
	case errors.Is(err, storage.ErrTokenNotFound):
		return "token_not_found", false
	default:
		return fmt.Sprintf("internal: %v", err), true
	}
}

// grantIDForCode derives the grant identifier shared by every token that
// descends from an authorization code.
func grantIDForCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:16])
}
