package oauth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/server"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
)

const (
	tokenTypeBearer = "Bearer"

	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"
	responseTypeCode           = "code"

	// maxRequestBodyBytes bounds form and JSON request bodies
	maxRequestBodyBytes = 64 << 10

	// discoveryCacheMaxAge is sent with discovery documents and the JWKS
	discoveryCacheMaxAge = 3600
)

// Handler serves the OAuth 2.1 endpoints of a Server over HTTP.
type Handler struct {
	server *server.Server
	config Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates an HTTP handler for srv. Zero-valued Config fields
// are filled from the server configuration.
func NewHandler(srv *server.Server, config Config) *Handler {
	if config.Logger == nil {
		config.Logger = srv.Logger
	}
	if config.UserAuthenticator == nil {
		config.UserAuthenticator = &BasicUserAuthenticator{Server: srv}
	}
	if config.RateLimiter == nil && srv.Config.RateLimit > 0 {
		config.RateLimiter = security.NewRateLimiter(srv.Config.RateLimit, srv.Config.RateLimitBurst, config.Logger)
	}
	if config.RegistrationLimiter == nil {
		config.RegistrationLimiter = security.NewRegistrationLimiter(srv.Config.MaxRegistrationsPerHour, time.Hour, config.Logger)
	}

	return &Handler{
		server: srv,
		config: config,
		logger: config.Logger,
		tracer: srv.Instrumentation().Tracer("http"),
	}
}

// Register mounts the OAuth endpoints and discovery documents on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.instrument, h.cors)

		r.Get(server.PathAuthorizationServerMeta, h.ServeAuthorizationServerMetadata)
		r.Get(server.PathProtectedResourceMetadata, h.ServeProtectedResourceMetadata)
		r.Get(server.PathProtectedResourceMetadata+"/*", h.ServeProtectedResourceMetadata)
		r.Get(server.PathJWKS, h.ServeJWKS)

		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Get(server.PathAuthorize, h.ServeAuthorization)
			r.Post(server.PathAuthorize, h.ServeAuthorization)
			r.Post(server.PathToken, h.ServeToken)
			r.Post(server.PathRegister, h.ServeClientRegistration)
			r.Post(server.PathIntrospect, h.ServeTokenIntrospection)
			r.Post(server.PathRevoke, h.ServeTokenRevocation)
		})

		for _, path := range []string{
			server.PathAuthorize, server.PathToken, server.PathRegister,
			server.PathIntrospect, server.PathRevoke,
			server.PathAuthorizationServerMeta, server.PathJWKS,
		} {
			r.Options(path, h.ServePreflightRequest)
		}
	})
}

// Router builds the complete HTTP surface. When resource is non-nil it is
// mounted at resourcePath behind ValidateToken and RequireScopes.
func (h *Handler) Router(resourcePath string, resource http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(security.RequestIDMiddleware)
	h.Register(r)

	if resource != nil {
		r.Group(func(r chi.Router) {
			r.Use(h.instrument, h.cors, h.ValidateToken, h.RequireScopes(h.config.ResourceScopes...))
			r.Handle(resourcePath, resource)
			r.Handle(resourcePath+"/*", resource)
		})
	}
	return r
}

// ==================== Authorization Endpoint ====================

// ServeAuthorization handles GET and POST /authorize. Browser requests get
// a 302 redirect back to the client; POST returns the code as JSON.
// Failures before the client and redirect URI are verified are never redirected.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.authorization")
	defer span.End()
	r = r.WithContext(ctx)

	req, err := h.parseAuthorizationRequest(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String(instrumentation.AttrClientID, req.ClientID))
	clientIP := h.clientIP(r)

	client, err := h.server.GetClient(ctx, req.ClientID)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, r, err)
		return
	}
	if req.RedirectURI == "" || !client.HasRedirectURI(req.RedirectURI) {
		h.server.Auditor.LogEvent(security.Event{
			Type:      security.EventInvalidRedirect,
			ClientID:  client.ClientID,
			IPAddress: clientIP,
			Details:   map[string]any{"endpoint": server.PathAuthorize},
		})
		h.writeError(w, r, server.ErrInvalidRequest("redirect_uri is missing or not registered for this client"))
		return
	}

	if req.ResponseType != responseTypeCode {
		h.authorizationError(w, r, req, server.ErrUnsupportedResponseType(req.ResponseType))
		return
	}

	user, err := h.config.UserAuthenticator.AuthenticateUser(r)
	if err != nil {
		if c, ok := h.config.UserAuthenticator.(challenger); ok && AsOAuthError(err).Code == ErrorCodeAccessDenied {
			w.Header().Set("WWW-Authenticate", c.Challenge())
			h.writeError(w, r, err)
			return
		}
		h.authorizationError(w, r, req, err)
		return
	}

	code, err := h.server.StartAuthorization(ctx, server.AuthorizationRequest{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              util.ParseScope(req.Scope),
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		UserID:              user.ID,
		ClientIP:            clientIP,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		h.authorizationError(w, r, req, err)
		return
	}
	instrumentation.SetSpanSuccess(span)

	if r.Method == http.MethodPost {
		h.writeJSON(w, http.StatusOK, AuthorizationResponse{
			Code:        code.Code,
			State:       req.State,
			ExpiresIn:   int64(code.ExpiresAt.Sub(code.CreatedAt) / time.Second),
			RedirectURI: code.RedirectURI,
			Issuer:      h.server.Config.Issuer,
		})
		return
	}

	params := url.Values{}
	params.Set("code", code.Code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	params.Set("iss", h.server.Config.Issuer)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, appendQuery(req.RedirectURI, params), http.StatusFound)
}

// parseAuthorizationRequest reads authorization parameters from the query
// string, and for POST also from the form body.
func (h *Handler) parseAuthorizationRequest(w http.ResponseWriter, r *http.Request) (*authorizationRequest, error) {
	form, err := h.parseForm(w, r)
	if err != nil {
		return nil, err
	}

	var req authorizationRequest
	fields := []struct {
		name string
		dst  *string
	}{
		{"response_type", &req.ResponseType},
		{"client_id", &req.ClientID},
		{"redirect_uri", &req.RedirectURI},
		{"scope", &req.Scope},
		{"state", &req.State},
		{"code_challenge", &req.CodeChallenge},
		{"code_challenge_method", &req.CodeChallengeMethod},
	}
	for _, f := range fields {
		if *f.dst, err = singleValue(form, f.name); err != nil {
			return nil, err
		}
	}
	if req.ClientID == "" {
		return nil, server.ErrInvalidRequest("client_id is required")
	}
	return &req, nil
}

// authorizationError reports a failure after the redirect URI was verified.
// GET requests are redirected back to the client, POST requests get JSON.
func (h *Handler) authorizationError(w http.ResponseWriter, r *http.Request, req *authorizationRequest, err error) {
	oauthErr := AsOAuthError(err)
	if r.Method == http.MethodPost {
		h.writeError(w, r, oauthErr)
		return
	}

	params := url.Values{}
	params.Set("error", oauthErr.Code)
	if oauthErr.Description != "" {
		params.Set("error_description", oauthErr.Description)
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	params.Set("iss", h.server.Config.Issuer)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, appendQuery(req.RedirectURI, params), http.StatusFound)
}

// appendQuery adds params to the query of a registered redirect URI,
// keeping any query it already carries.
func appendQuery(redirectURI string, params url.Values) string {
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	return redirectURI + sep + params.Encode()
}

// ==================== Token Endpoint ====================

// ServeToken handles POST /token for the authorization_code and
// refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.token")
	defer span.End()
	r = r.WithContext(ctx)

	form, err := h.parseForm(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := parseTokenRequest(form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String(instrumentation.AttrGrantType, req.GrantType))

	switch req.GrantType {
	case grantTypeAuthorizationCode, grantTypeRefreshToken:
	case "":
		h.writeError(w, r, server.ErrInvalidRequest("grant_type is required"))
		return
	default:
		h.writeError(w, r, server.ErrUnsupportedGrantType(req.GrantType))
		return
	}

	client, err := h.authenticateClient(r, form)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, r, err)
		return
	}
	clientIP := h.clientIP(r)

	var resp *server.TokenResponse
	if req.GrantType == grantTypeAuthorizationCode {
		resp, err = h.server.ExchangeCode(ctx, req.Code, client.ClientID, req.CodeVerifier, req.RedirectURI, clientIP)
	} else {
		resp, err = h.server.Refresh(ctx, req.RefreshToken, client.ClientID, util.ParseScope(req.Scope), clientIP)
	}
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, r, err)
		return
	}
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		RefreshToken: resp.RefreshToken,
		Scope:        resp.Scope,
	})
}

func parseTokenRequest(form url.Values) (*tokenRequest, error) {
	var req tokenRequest
	var err error
	fields := []struct {
		name string
		dst  *string
	}{
		{"grant_type", &req.GrantType},
		{"code", &req.Code},
		{"redirect_uri", &req.RedirectURI},
		{"code_verifier", &req.CodeVerifier},
		{"refresh_token", &req.RefreshToken},
		{"scope", &req.Scope},
	}
	for _, f := range fields {
		if *f.dst, err = singleValue(form, f.name); err != nil {
			return nil, err
		}
	}
	return &req, nil
}

// ==================== Client Authentication ====================

// clientCredentials extracts the client identity from HTTP Basic
// credentials (RFC 6749 Section 2.3.1) or the form body.
func clientCredentials(r *http.Request, form url.Values) (clientID, secret, method string, err error) {
	formID, err := singleValue(form, "client_id")
	if err != nil {
		return "", "", "", err
	}
	formSecret, err := singleValue(form, "client_secret")
	if err != nil {
		return "", "", "", err
	}

	if user, pass, ok := r.BasicAuth(); ok {
		if formSecret != "" {
			return "", "", "", server.ErrInvalidRequest("multiple client authentication methods used")
		}
		clientID, err1 := url.QueryUnescape(user)
		secret, err2 := url.QueryUnescape(pass)
		if err1 != nil || err2 != nil {
			return "", "", "", server.ErrInvalidClient("malformed client credentials")
		}
		if formID != "" && formID != clientID {
			return "", "", "", server.ErrInvalidRequest("client_id does not match the authenticated client")
		}
		return clientID, secret, server.TokenEndpointAuthMethodBasic, nil
	}

	if formSecret != "" {
		return formID, formSecret, server.TokenEndpointAuthMethodPost, nil
	}
	return formID, "", server.TokenEndpointAuthMethodNone, nil
}

// hasClientCredentials reports whether the request identifies a client at all.
func hasClientCredentials(r *http.Request, form url.Values) bool {
	if _, _, ok := r.BasicAuth(); ok {
		return true
	}
	return form.Get("client_id") != "" || form.Get("client_secret") != ""
}

// authenticateClient identifies and authenticates the calling client.
// Confidential clients must use the method they registered with.
func (h *Handler) authenticateClient(r *http.Request, form url.Values) (*storage.Client, error) {
	clientID, secret, method, err := clientCredentials(r, form)
	if err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, server.ErrInvalidClient("client authentication required")
	}

	clientIP := h.clientIP(r)
	client, err := h.server.AuthenticateClient(r.Context(), clientID, secret, clientIP)
	if err != nil {
		return nil, err
	}
	if client.IsConfidential() && method != client.TokenEndpointAuthMethod {
		h.server.Auditor.LogAuthFailure("", clientID, clientIP, "auth_method_mismatch")
		return nil, server.ErrInvalidClient("client authentication failed")
	}
	return client, nil
}

// ==================== Introspection and Revocation ====================

// ServeTokenIntrospection handles POST /introspect (RFC 7662). Unknown,
// expired and revoked tokens all report {"active": false}.
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.introspection")
	defer span.End()
	r = r.WithContext(ctx)

	form, err := h.parseForm(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := parseTokenLookupRequest(form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if h.server.Config.RequireIntrospectionAuth || hasClientCredentials(r, form) {
		if _, err := h.authenticateClient(r, form); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if req.Token == "" {
		h.writeError(w, r, server.ErrInvalidRequest("token is required"))
		return
	}

	result, err := h.server.Introspect(ctx, req.Token, req.TokenTypeHint)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(attribute.Bool(instrumentation.AttrActive, result.Active))
	h.writeJSON(w, http.StatusOK, result)
}

// ServeTokenRevocation handles POST /revoke (RFC 7009). The response is
// 200 whether or not the token was known.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.revocation")
	defer span.End()
	r = r.WithContext(ctx)

	form, err := h.parseForm(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := parseTokenLookupRequest(form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	client, err := h.authenticateClient(r, form)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Token == "" {
		h.writeError(w, r, server.ErrInvalidRequest("token is required"))
		return
	}

	if err := h.server.Revoke(ctx, req.Token, req.TokenTypeHint, client.ClientID, h.clientIP(r)); err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.WriteHeader(http.StatusOK)
}

func parseTokenLookupRequest(form url.Values) (*tokenLookupRequest, error) {
	token, err := singleValue(form, "token")
	if err != nil {
		return nil, err
	}
	hint, err := singleValue(form, "token_type_hint")
	if err != nil {
		return nil, err
	}
	return &tokenLookupRequest{Token: token, TokenTypeHint: hint}, nil
}

// ==================== Dynamic Client Registration ====================

// ServeClientRegistration handles POST /register (RFC 7591).
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.registration")
	defer span.End()
	r = r.WithContext(ctx)
	clientIP := h.clientIP(r)

	if !h.registrationAuthorized(r) {
		h.server.Auditor.LogAuthFailure("", "", clientIP, "invalid_registration_token")
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="%s"`, ErrorCodeInvalidToken))
		h.writeError(w, r, server.ErrInvalidToken("a valid registration access token is required"))
		return
	}

	if !h.config.RegistrationLimiter.Allow(clientIP) {
		h.logger.Warn("Client registration rate limit exceeded",
			"ip", clientIP, "max_per_hour", h.server.Config.MaxRegistrationsPerHour)
		h.server.Instrumentation().Metrics().RecordRateLimitExceeded(ctx, "registration")
		h.server.Auditor.LogEvent(security.Event{
			Type:      security.EventClientRegistrationRateLimitExceeded,
			IPAddress: clientIP,
		})
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Hour/time.Second)))
		h.writeError(w, r, NewOAuthError(ErrorCodeRateLimitExceeded,
			"client registration rate limit exceeded, retry later", http.StatusTooManyRequests))
		return
	}

	var req ClientRegistrationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, server.ErrInvalidRequest("request body must be a JSON client metadata document"))
		return
	}
	if err := validateRegistrationTypes(&req); err != nil {
		h.writeError(w, r, err)
		return
	}

	client, secret, err := h.server.RegisterClient(ctx, server.ClientRegistration{
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		Scopes:                  util.ParseScope(req.Scope),
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		ClientIP:                clientIP,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeError(w, r, err)
		return
	}
	instrumentation.SetSpanSuccess(span)

	resp := ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		Scope:                   util.FormatScope(client.Scopes),
	}
	if client.IsConfidential() {
		never := int64(0)
		resp.ClientSecretExpiresAt = &never
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// registrationAuthorized checks the initial access token when open
// registration is disabled.
func (h *Handler) registrationAuthorized(r *http.Request) bool {
	if h.server.Config.AllowPublicClientRegistration {
		return true
	}
	expected := h.server.Config.RegistrationAccessToken
	if expected == "" {
		return false
	}
	token, ok := bearerToken(r)
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// validateRegistrationTypes accepts only the grant and response types this
// server implements.
func validateRegistrationTypes(req *ClientRegistrationRequest) error {
	for _, gt := range req.GrantTypes {
		if gt != grantTypeAuthorizationCode && gt != grantTypeRefreshToken {
			return server.ErrInvalidClientMetadata(fmt.Sprintf("grant_type %q is not supported", gt))
		}
	}
	for _, rt := range req.ResponseTypes {
		if rt != responseTypeCode {
			return server.ErrInvalidClientMetadata(fmt.Sprintf("response_type %q is not supported", rt))
		}
	}
	if len(req.GrantTypes) > 0 && !slices.Contains(req.GrantTypes, grantTypeAuthorizationCode) {
		return server.ErrInvalidClientMetadata("grant_types must include authorization_code")
	}
	return nil
}

// ==================== Discovery ====================

// ServeAuthorizationServerMetadata serves RFC 8414 metadata.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, _ *http.Request) {
	h.writeDiscovery(w, h.server.Metadata())
}

// ServeProtectedResourceMetadata serves RFC 9728 metadata. Path-suffixed
// requests such as /.well-known/oauth-protected-resource/mcp get the same document.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, _ *http.Request) {
	h.writeDiscovery(w, h.server.ResourceMetadata())
}

// ServeJWKS serves the public keys used to verify access tokens.
func (h *Handler) ServeJWKS(w http.ResponseWriter, _ *http.Request) {
	h.writeDiscovery(w, h.server.Signer().JWKS())
}

// ServePreflightRequest answers CORS preflight requests that reach a route.
func (h *Handler) ServePreflightRequest(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNoContent)
}

// ==================== Helpers ====================

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// parseForm parses the query and, for POST, a bounded urlencoded body.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	if r.Method == http.MethodPost {
		ct := r.Header.Get("Content-Type")
		if ct != "" && !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
			return nil, server.ErrInvalidRequest("content type must be application/x-www-form-urlencoded")
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	}
	if err := r.ParseForm(); err != nil {
		return nil, server.ErrInvalidRequest("malformed request parameters")
	}
	return r.Form, nil
}

// singleValue returns a parameter that must not be repeated (RFC 6749 Section 3.1).
func singleValue(form url.Values, name string) (string, error) {
	values := form[name]
	switch len(values) {
	case 0:
		return "", nil
	case 1:
		return values[0], nil
	default:
		return "", server.ErrInvalidRequest(fmt.Sprintf("parameter %s is repeated", name))
	}
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, tokenTypeBearer) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

// writeDiscovery writes a public, cacheable JSON document.
func (h *Handler) writeDiscovery(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", discoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

// writeError writes an OAuth error response. Failed Basic client
// authentication gets a Basic challenge (RFC 6749 Section 5.2).
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	oauthErr := AsOAuthError(err)
	var known *OAuthError
	if !errors.As(err, &known) {
		h.logger.Error("Unexpected error", "error", err, "request_id", security.GetRequestID(r.Context()))
	}

	if oauthErr.Code == ErrorCodeInvalidClient && oauthErr.Status == http.StatusUnauthorized {
		if _, _, ok := r.BasicAuth(); ok {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, h.server.Config.Issuer))
		}
	}
	h.writeJSON(w, oauthErr.Status, ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})
}
