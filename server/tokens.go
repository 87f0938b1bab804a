package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

const grantTypeRefreshToken = "refresh_token"

// TokenTypeBearer is the token_type of every issued access token
const TokenTypeBearer = "Bearer"

// TokenResponse is the result of a successful token request.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

// IssueToken mints a signed access token and its refresh token for userID
// on behalf of clientID as a new grant.
func (s *Server) IssueToken(ctx context.Context, clientID, userID string, scopes []string) (*TokenResponse, error) {
	if clientID == "" || userID == "" {
		return nil, ErrInvalidRequest("client and user are required")
	}
	return s.issueTokenPair(ctx, uuid.NewString(), clientID, userID, util.NormalizeScopes(scopes))
}

// issueTokenPair signs an access token, generates a refresh token and
// stores both as one pair.
func (s *Server) issueTokenPair(ctx context.Context, grantID, clientID, userID string, scopes []string) (*TokenResponse, error) {
	now := s.now()
	ttl := s.Config.AccessTokenLifetime()

	claims := tokens.NewClaims(uuid.NewString(), clientID, userID, scopes, now, ttl)
	signed, err := s.signer.Sign(claims)
	if err != nil {
		s.Logger.Error("Failed to sign access token", "client_id", clientID, "error", err)
		return nil, ErrServerError()
	}

	access := &storage.AccessToken{
		Token:     signed,
		TokenID:   claims.ID,
		GrantID:   grantID,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	refresh := &storage.RefreshToken{
		Token:     generateRandomToken(),
		GrantID:   grantID,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.Config.RefreshTokenLifetime()),
	}

	if err := s.tokenStore.SaveTokenPair(ctx, access, refresh); err != nil {
		s.Logger.Error("Failed to save token pair", "client_id", clientID, "error", err)
		return nil, ErrServerError()
	}

	return &TokenResponse{
		AccessToken:  signed,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    s.Config.AccessTokenTTL,
		RefreshToken: refresh.Token,
		Scope:        scopeString(scopes),
		ExpiresAt:    access.ExpiresAt,
	}, nil
}

// Refresh rotates a refresh token: the presented token and its paired access
// token are invalidated and a new pair is issued. The refresh token must
// belong to clientID. A non-empty scopes narrows the new pair to a subset of
// the original grant.
func (s *Server) Refresh(ctx context.Context, refreshToken, clientID string, scopes []string, clientIP string) (_ *TokenResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "oauth.refresh_token")
	defer span.End()
	defer func() { finishSpan(span, err) }()

	span.SetAttributes(attribute.String(instrumentation.AttrGrantType, grantTypeRefreshToken))
	instrumentation.AddOAuthFlowAttributes(span, clientID, "", "")

	if refreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	requested := util.NormalizeScopes(scopes)
	errScopeEscalation := errors.New("scope_escalation")

	check := func(rt *storage.RefreshToken) error {
		if rt.ClientID != clientID {
			return &grantCheckError{reason: "client_id_mismatch"}
		}
		if !util.ScopesSubset(requested, rt.Scopes) {
			return errScopeEscalation
		}
		return nil
	}

	consumed, err := s.tokenStore.ConsumeRefreshToken(ctx, refreshToken, s.now(), check)
	if err != nil {
		if errors.Is(err, errScopeEscalation) {
			s.rejectGrant(ctx, grantTypeRefreshToken, "scope_escalation", clientID, clientIP, refreshToken)
			return nil, ErrInvalidScope("requested scope exceeds the scope originally granted")
		}
		reason, internal := exchangeFailureReason(err)
		if internal {
			s.Logger.Error("Failed to consume refresh token", "client_id", clientID, "error", err)
			return nil, ErrServerError()
		}
		if reason == "code_expired" {
			reason = "token_expired"
		}
		s.rejectGrant(ctx, grantTypeRefreshToken, reason, clientID, clientIP, refreshToken)
		return nil, ErrInvalidGrant()
	}

	newScopes := consumed.Scopes
	if len(requested) > 0 {
		newScopes = requested
	}

	resp, err := s.issueTokenPair(ctx, consumed.GrantID, consumed.ClientID, consumed.UserID, newScopes)
	if err != nil {
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, consumed.ClientID, consumed.UserID, resp.Scope)
	s.instrumentation.Metrics().RecordTokenRefresh(ctx, consumed.ClientID)
	s.Auditor.LogTokenRefreshed(consumed.UserID, consumed.ClientID, clientIP)
	s.Logger.Info("Rotated refresh token",
		"client_id", consumed.ClientID,
		"token_prefix", util.SafeTruncate(refreshToken, tokenIDLogLength))

	return resp, nil
}
