package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
)

// Token endpoint authentication method constants (RFC 7591)
const (
	// TokenEndpointAuthMethodNone represents no authentication (public clients)
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodBasic represents HTTP Basic authentication
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	// TokenEndpointAuthMethodPost represents POST form parameters
	TokenEndpointAuthMethodPost = "client_secret_post"
)

const (
	maxClientNameLength  = 256
	maxRedirectURIs      = 10
	clientIDSaveAttempts = 3
)

// dummySecretHash is compared against when the client is unknown so that
// lookups of unknown and known clients take similar time.
var dummySecretHash = sync.OnceValue(func() []byte {
	hash, _ := bcrypt.GenerateFromPassword([]byte(generateRandomToken()), bcrypt.DefaultCost)
	return hash
})

// ClientRegistration is a validated dynamic client registration request (RFC 7591).
type ClientRegistration struct {
	ClientName              string
	RedirectURIs            []string
	Scopes                  []string
	TokenEndpointAuthMethod string
	ClientIP                string
}

// RegisterClient registers a new OAuth client.
//
// tokenEndpointAuthMethod determines how the client authenticates at the token endpoint:
//   - "none" (default): public client, PKCE-only
//   - "client_secret_basic", "client_secret_post": confidential client; the
//     generated secret is returned once and only its bcrypt hash is stored
func (s *Server) RegisterClient(ctx context.Context, req ClientRegistration) (_ *storage.Client, _ string, err error) {
	ctx, span := s.tracer.Start(ctx, "oauth.register_client")
	defer span.End()
	defer func() { finishSpan(span, err) }()

	if len(req.ClientName) > maxClientNameLength {
		return nil, "", ErrInvalidClientMetadata(fmt.Sprintf("client_name must be at most %d characters", maxClientNameLength))
	}

	if err := s.validateRedirectURIsWithAudit(req.RedirectURIs, req.ClientIP); err != nil {
		return nil, "", err
	}

	clientType, authMethod, err := resolveClientTypeAndAuthMethod(req.TokenEndpointAuthMethod)
	if err != nil {
		return nil, "", err
	}

	scopes := util.NormalizeScopes(req.Scopes)
	if len(scopes) == 0 {
		scopes = append([]string(nil), s.Config.DefaultScopes...)
	}
	if err := s.validateSupportedScopes(scopes); err != nil {
		return nil, "", err
	}

	clientSecret, clientSecretHash, err := generateClientSecret(clientType)
	if err != nil {
		s.Logger.Error("Failed to generate client secret", "error", err)
		return nil, "", ErrServerError()
	}

	client := &storage.Client{
		ClientSecretHash:        clientSecretHash,
		ClientType:              clientType,
		ClientName:              req.ClientName,
		RedirectURIs:            append([]string(nil), req.RedirectURIs...),
		Scopes:                  scopes,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		CreatedAt:               s.now(),
	}

	// insert-if-absent; a collision of 256-bit IDs only happens with a broken RNG
	for attempt := 0; ; attempt++ {
		client.ClientID = generateRandomToken()
		err = s.clientStore.SaveClient(ctx, client)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrAlreadyExists) || attempt+1 >= clientIDSaveAttempts {
			s.Logger.Error("Failed to save client", "error", err)
			return nil, "", ErrServerError()
		}
	}

	span.SetAttributes(
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, clientType),
	)
	s.instrumentation.Metrics().RecordClientRegistration(ctx, clientType)
	s.Auditor.LogClientRegistered(client.ClientID, clientType, req.ClientIP)
	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"client_type", client.ClientType,
		"token_endpoint_auth_method", client.TokenEndpointAuthMethod,
		"client_ip", req.ClientIP)

	return client, clientSecret, nil
}

// validateRedirectURIsWithAudit validates redirect URIs and logs failures for auditing.
func (s *Server) validateRedirectURIsWithAudit(redirectURIs []string, clientIP string) error {
	if len(redirectURIs) == 0 {
		return ErrInvalidRedirectURI("at least one redirect_uri is required")
	}
	if len(redirectURIs) > maxRedirectURIs {
		return ErrInvalidRedirectURI(fmt.Sprintf("at most %d redirect_uris are allowed", maxRedirectURIs))
	}

	for _, uri := range redirectURIs {
		err := s.ValidateRedirectURIForRegistration(uri)
		if err == nil {
			continue
		}

		var uriErr *RedirectURISecurityError
		category, reason := "unknown", err.Error()
		if errors.As(err, &uriErr) {
			category, reason = uriErr.Category, uriErr.Reason
		}
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventClientRegistrationRejected,
			IPAddress: clientIP,
			Details: map[string]any{
				"reason":   "redirect_uri_validation_failed",
				"category": category,
			},
		})
		s.Logger.Warn("Client registration rejected: redirect URI validation failed",
			"category", category,
			"reason", reason,
			"client_ip", clientIP)
		return ErrInvalidRedirectURI(err.Error())
	}
	return nil
}

// resolveClientTypeAndAuthMethod maps token_endpoint_auth_method to a client type.
// Per RFC 7591 Section 2 the auth method determines whether the client is confidential.
func resolveClientTypeAndAuthMethod(authMethod string) (string, string, error) {
	switch authMethod {
	case "", TokenEndpointAuthMethodNone:
		return storage.ClientTypePublic, TokenEndpointAuthMethodNone, nil
	case TokenEndpointAuthMethodBasic, TokenEndpointAuthMethodPost:
		return storage.ClientTypeConfidential, authMethod, nil
	default:
		return "", "", ErrInvalidClientMetadata(fmt.Sprintf("unsupported token_endpoint_auth_method: %s", authMethod))
	}
}

// generateClientSecret generates a secret for confidential clients.
func generateClientSecret(clientType string) (string, string, error) {
	if clientType != storage.ClientTypeConfidential {
		return "", "", nil
	}

	clientSecret := generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return clientSecret, string(hash), nil
}

// GetClient retrieves a registered client, returning invalid_client if unknown.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if clientID == "" {
		return nil, ErrInvalidClient("client_id is required")
	}
	client, err := s.clientStore.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		s.Logger.Error("Failed to load client", "client_id", clientID, "error", err)
		return nil, ErrServerError()
	}
	return client, nil
}

// AuthenticateClient authenticates a client at the token, introspection or
// revocation endpoint. Public clients authenticate by client_id alone;
// confidential clients must present their secret.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		var oauthErr *Error
		if errors.As(err, &oauthErr) && oauthErr.Code == ErrorCodeInvalidClient && clientSecret != "" {
			// equalize timing with the known-client path
			_ = bcrypt.CompareHashAndPassword(dummySecretHash(), []byte(clientSecret))
		}
		s.Auditor.LogAuthFailure("", clientID, clientIP, "unknown_client")
		return nil, err
	}

	if !client.IsConfidential() {
		if clientSecret != "" {
			s.Auditor.LogAuthFailure("", clientID, clientIP, "secret_presented_by_public_client")
			return nil, ErrInvalidClient("client authentication failed")
		}
		return client, nil
	}

	if clientSecret == "" ||
		bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)) != nil {
		s.Auditor.LogAuthFailure("", clientID, clientIP, "invalid_client_secret")
		return nil, ErrInvalidClient("client authentication failed")
	}
	return client, nil
}

// finishSpan marks span according to err, using the OAuth error code when available.
func finishSpan(span trace.Span, err error) {
	if err == nil {
		instrumentation.SetSpanSuccess(span)
		return
	}
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		instrumentation.SetSpanError(span, oauthErr.Code)
		return
	}
	instrumentation.RecordError(span, err)
}

// scopeString formats scopes for logs and audit events.
func scopeString(scopes []string) string {
	return strings.Join(scopes, " ")
}
