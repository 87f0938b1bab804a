package server

import "strings"

// AuthorizationServerMetadata is the RFC 8414 discovery document.
type AuthorizationServerMetadata struct {
	Issuer                                 string   `json:"issuer"`
	AuthorizationEndpoint                  string   `json:"authorization_endpoint"`
	TokenEndpoint                          string   `json:"token_endpoint"`
	RegistrationEndpoint                   string   `json:"registration_endpoint"`
	IntrospectionEndpoint                  string   `json:"introspection_endpoint"`
	RevocationEndpoint                     string   `json:"revocation_endpoint"`
	JWKSURI                                string   `json:"jwks_uri"`
	ScopesSupported                        []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported                 []string `json:"response_types_supported"`
	GrantTypesSupported                    []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported          []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported      []string `json:"token_endpoint_auth_methods_supported"`
	IntrospectionEndpointAuthMethods       []string `json:"introspection_endpoint_auth_methods_supported"`
	RevocationEndpointAuthMethodsSupported []string `json:"revocation_endpoint_auth_methods_supported"`
}

// ProtectedResourceMetadata is the RFC 9728 document for the protected resource.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
}

// Endpoint paths served by the HTTP handler.
const (
	PathAuthorize                 = "/authorize"
	PathToken                     = "/token"
	PathRegister                  = "/register"
	PathIntrospect                = "/introspect"
	PathRevoke                    = "/revoke"
	PathJWKS                      = "/.well-known/jwks.json"
	PathAuthorizationServerMeta   = "/.well-known/oauth-authorization-server"
	PathProtectedResourceMetadata = "/.well-known/oauth-protected-resource"
)

// Metadata returns the authorization server discovery document.
func (s *Server) Metadata() *AuthorizationServerMetadata {
	base := strings.TrimRight(s.Config.Issuer, "/")
	authMethods := []string{TokenEndpointAuthMethodNone, TokenEndpointAuthMethodBasic, TokenEndpointAuthMethodPost}

	return &AuthorizationServerMetadata{
		Issuer:                                 s.Config.Issuer,
		AuthorizationEndpoint:                  base + PathAuthorize,
		TokenEndpoint:                          base + PathToken,
		RegistrationEndpoint:                   base + PathRegister,
		IntrospectionEndpoint:                  base + PathIntrospect,
		RevocationEndpoint:                     base + PathRevoke,
		JWKSURI:                                base + PathJWKS,
		ScopesSupported:                        s.Config.SupportedScopes,
		ResponseTypesSupported:                 []string{"code"},
		GrantTypesSupported:                    []string{grantTypeAuthorizationCode, grantTypeRefreshToken},
		CodeChallengeMethodsSupported:          s.Config.PKCEMethods(),
		TokenEndpointAuthMethodsSupported:      authMethods,
		IntrospectionEndpointAuthMethods:       authMethods,
		RevocationEndpointAuthMethodsSupported: authMethods,
	}
}

// ResourceMetadata returns the protected resource metadata document.
func (s *Server) ResourceMetadata() *ProtectedResourceMetadata {
	return &ProtectedResourceMetadata{
		Resource:               s.Config.ResourceURL,
		AuthorizationServers:   []string{s.Config.Issuer},
		ScopesSupported:        s.Config.SupportedScopes,
		BearerMethodsSupported: []string{"header"},
	}
}

// ResourceMetadataURL is advertised in WWW-Authenticate challenges (RFC 9728 Section 5.1).
func (s *Server) ResourceMetadataURL() string {
	return strings.TrimRight(s.Config.Issuer, "/") + PathProtectedResourceMetadata
}
