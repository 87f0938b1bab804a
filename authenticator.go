package oauth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/server"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
)

// UserAuthenticator identifies the resource owner of an authorization request.
// Returned errors should be OAuth errors; anything else becomes server_error.
type UserAuthenticator interface {
	AuthenticateUser(r *http.Request) (*storage.User, error)
}

// challenger is implemented by authenticators that can ask the user agent
// for credentials with a WWW-Authenticate challenge.
type challenger interface {
	Challenge() string
}

// BasicUserAuthenticator authenticates users with HTTP Basic credentials
// checked against the server's user store.
type BasicUserAuthenticator struct {
	Server *server.Server

	// Realm is sent in the Basic challenge. Default: the issuer
	Realm string
}

// AuthenticateUser implements UserAuthenticator
func (a *BasicUserAuthenticator) AuthenticateUser(r *http.Request) (*storage.User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, server.ErrAccessDenied("user authentication required")
	}
	clientIP := security.GetClientIP(r, a.Server.Config.TrustProxy, a.Server.Config.TrustedProxyCount)
	return a.Server.AuthenticateUser(r.Context(), username, password, clientIP)
}

// Challenge implements challenger
func (a *BasicUserAuthenticator) Challenge() string {
	realm := a.Realm
	if realm == "" {
		realm = a.Server.Config.Issuer
	}
	realm = strings.ReplaceAll(realm, `"`, "")
	return fmt.Sprintf(`Basic realm="%s", charset="UTF-8"`, realm)
}

// HeaderUserAuthenticator trusts a username set by an authenticating
// reverse proxy. Only use it when the proxy strips the header from
// client requests.
type HeaderUserAuthenticator struct {
	Server *server.Server

	// Header carries the authenticated username. Default: X-Forwarded-User
	Header string
}

// AuthenticateUser implements UserAuthenticator
func (a *HeaderUserAuthenticator) AuthenticateUser(r *http.Request) (*storage.User, error) {
	header := a.Header
	if header == "" {
		header = "X-Forwarded-User"
	}
	username := strings.TrimSpace(r.Header.Get(header))
	if username == "" {
		return nil, server.ErrAccessDenied("user authentication required")
	}
	return a.Server.LookupUser(r.Context(), username)
}
