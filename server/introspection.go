package server

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

// Introspection is an RFC 7662 introspection response. Inactive tokens carry
// only Active=false.
type Introspection struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	NotBefore int64    `json:"nbf,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	TokenID   string   `json:"jti,omitempty"`
}

// Introspect reports whether token is an active access or refresh token.
// Malformed, expired, revoked and unknown tokens are all reported as
// inactive; the only error is an internal store failure. tokenTypeHint
// (RFC 7662 Section 2.1) only changes the lookup order.
func (s *Server) Introspect(ctx context.Context, token, tokenTypeHint string) (_ *Introspection, err error) {
	ctx, span := s.tracer.Start(ctx, "oauth.introspect")
	defer span.End()
	defer func() { finishSpan(span, err) }()

	result := &Introspection{}
	if token != "" {
		lookups := []func(context.Context, string) (*Introspection, error){s.introspectAccessToken, s.introspectRefreshToken}
		if tokenTypeHint == storage.TokenTypeRefreshToken {
			lookups[0], lookups[1] = lookups[1], lookups[0]
		}
		for _, lookup := range lookups {
			r, err := lookup(ctx, token)
			if err != nil {
				s.Logger.Error("Token introspection failed", "error", err)
				return nil, ErrServerError()
			}
			if r.Active {
				result = r
				break
			}
		}
	}

	span.SetAttributes(attribute.Bool(instrumentation.AttrActive, result.Active))
	s.instrumentation.Metrics().RecordIntrospection(ctx, result.Active)
	return result, nil
}

func (s *Server) introspectAccessToken(ctx context.Context, token string) (*Introspection, error) {
	claims, record, err := s.verifyAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, errTokenInactive) {
			return &Introspection{}, nil
		}
		return nil, err
	}

	return &Introspection{
		Active:    true,
		Scope:     scopeString(record.Scopes),
		ClientID:  claims.ClientID,
		Subject:   claims.Subject,
		TokenType: storage.TokenTypeAccessToken,
		ExpiresAt: unixOrZero(claims.ExpiresAt),
		IssuedAt:  unixOrZero(claims.IssuedAt),
		NotBefore: unixOrZero(claims.NotBefore),
		Issuer:    claims.Issuer,
		Audience:  claims.Audience,
		TokenID:   claims.ID,
	}, nil
}

func (s *Server) introspectRefreshToken(ctx context.Context, token string) (*Introspection, error) {
	record, err := s.tokenStore.GetRefreshToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return &Introspection{}, nil
		}
		return nil, err
	}
	if security.IsExpired(record.ExpiresAt, s.now(), s.Config.GracePeriod()) {
		return &Introspection{}, nil
	}

	return &Introspection{
		Active:    true,
		Scope:     scopeString(record.Scopes),
		ClientID:  record.ClientID,
		Subject:   record.UserID,
		TokenType: storage.TokenTypeRefreshToken,
		ExpiresAt: record.ExpiresAt.Unix(),
		IssuedAt:  record.IssuedAt.Unix(),
		Issuer:    s.signer.Issuer(),
	}, nil
}

func unixOrZero(d *jwt.NumericDate) int64 {
	if d == nil {
		return 0
	}
	return d.Unix()
}

// errTokenInactive marks an access token that failed verification.
var errTokenInactive = errors.New("token inactive")

// verifyAccessToken checks the signature and claims of token and that it is
// still present and unexpired in the token store.
func (s *Server) verifyAccessToken(ctx context.Context, token string) (*tokens.Claims, *storage.AccessToken, error) {
	now := s.now()

	claims, err := s.signer.Parse(token, now)
	if err != nil {
		s.Logger.Debug("Access token verification failed", "reason", err.Error())
		return nil, nil, errTokenInactive
	}

	record, err := s.tokenStore.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, nil, errTokenInactive
		}
		return nil, nil, err
	}
	if record.TokenID != claims.ID || security.IsExpired(record.ExpiresAt, now, s.Config.GracePeriod()) {
		return nil, nil, errTokenInactive
	}
	return claims, record, nil
}

// ValidateAccessToken verifies a bearer token for the protected resource and
// returns its claims. Failures are invalid_token errors.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*tokens.Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken("missing access token")
	}
	claims, _, err := s.verifyAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, errTokenInactive) {
			return nil, ErrInvalidToken("access token is invalid, expired, or revoked")
		}
		s.Logger.Error("Access token validation failed", "error", err)
		return nil, ErrServerError()
	}
	return claims, nil
}

// Revoke invalidates an access token, a refresh token or an unexchanged
// authorization code (RFC 7009). Revoking an access token also removes its
// paired refresh token and vice versa. Unknown and already revoked values
// succeed without effect. When clientID is non-empty, credentials issued to
// another client are left untouched and the call still succeeds.
func (s *Server) Revoke(ctx context.Context, token, tokenTypeHint, clientID, clientIP string) (err error) {
	ctx, span := s.tracer.Start(ctx, "oauth.revoke")
	defer span.End()
	defer func() { finishSpan(span, err) }()

	if token == "" {
		return ErrInvalidRequest("token is required")
	}

	revokers := []func(context.Context, string, string, string) (bool, error){
		s.revokeAccessToken, s.revokeRefreshToken, s.revokeAuthorizationCode,
	}
	if tokenTypeHint == storage.TokenTypeRefreshToken {
		revokers[0], revokers[1] = revokers[1], revokers[0]
	}

	for _, revoke := range revokers {
		done, err := revoke(ctx, token, clientID, clientIP)
		if err != nil {
			s.Logger.Error("Token revocation failed", "error", err)
			return ErrServerError()
		}
		if done {
			return nil
		}
	}

	s.Logger.Debug("Revocation of unknown token ignored",
		"token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	return nil
}

// revokeAccessToken returns true once token has been handled as an access token.
func (s *Server) revokeAccessToken(ctx context.Context, token, clientID, clientIP string) (bool, error) {
	record, err := s.tokenStore.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return false, nil
		}
		return false, err
	}
	if clientID != "" && record.ClientID != clientID {
		s.Auditor.LogAuthFailure(record.UserID, clientID, clientIP, "revocation_client_mismatch")
		return true, nil
	}

	revoked, err := s.tokenStore.RevokeAccessToken(ctx, token)
	if err != nil {
		return false, err
	}
	if revoked {
		s.recordRevocation(ctx, storage.TokenTypeAccessToken, record.UserID, record.ClientID, clientIP)
	}
	return true, nil
}

// revokeRefreshToken returns true once token has been handled as a refresh token.
func (s *Server) revokeRefreshToken(ctx context.Context, token, clientID, clientIP string) (bool, error) {
	record, err := s.tokenStore.GetRefreshToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return false, nil
		}
		return false, err
	}
	if clientID != "" && record.ClientID != clientID {
		s.Auditor.LogAuthFailure(record.UserID, clientID, clientIP, "revocation_client_mismatch")
		return true, nil
	}

	revoked, err := s.tokenStore.RevokeRefreshToken(ctx, token)
	if err != nil {
		return false, err
	}
	if revoked {
		s.recordRevocation(ctx, storage.TokenTypeRefreshToken, record.UserID, record.ClientID, clientIP)
	}
	return true, nil
}

// revokeAuthorizationCode moves an unexchanged code to REVOKED.
func (s *Server) revokeAuthorizationCode(ctx context.Context, code, clientID, clientIP string) (bool, error) {
	record, err := s.flowStore.GetAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			return false, nil
		}
		return false, err
	}
	if clientID != "" && record.ClientID != clientID {
		return true, nil
	}

	revoked, err := s.flowStore.RevokeAuthorizationCode(ctx, code)
	if err != nil {
		return false, err
	}
	if revoked {
		s.recordRevocation(ctx, "authorization_code", record.UserID, record.ClientID, clientIP)
	}
	return true, nil
}

func (s *Server) recordRevocation(ctx context.Context, tokenType, userID, clientID, clientIP string) {
	s.instrumentation.Metrics().RecordTokenRevocation(ctx, tokenType)
	s.Auditor.LogTokenRevoked(userID, clientID, clientIP, tokenType)
	s.Logger.Info("Revoked credential", "token_type", tokenType, "client_id", clientID)
}
