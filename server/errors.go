package server

import (
	"fmt"
	"net/http"
)

// OAuth error codes (RFC 6749 Section 5.2, RFC 7591 Section 3.2.2, RFC 6750 Section 3.1)
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeInvalidClientMetadata   = "invalid_client_metadata"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInsufficientScope       = "insufficient_scope"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// invalidGrantDescription is returned for every invalid_grant failure so the
// caller cannot tell which check rejected the grant.
const invalidGrantDescription = "the authorization grant is invalid, expired, or revoked"

// Error is an OAuth protocol error. Description is safe to return to clients.
type Error struct {
	Code        string
	Description string
	Status      int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates an OAuth error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// ErrInvalidRequest indicates the request is malformed or missing required parameters
func ErrInvalidRequest(desc string) *Error {
	return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

// ErrInvalidClient indicates the client is unknown or failed to authenticate
func ErrInvalidClient(desc string) *Error {
	return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
}

// ErrInvalidGrant indicates a bad, expired, used or revoked code or refresh token.
// The description is always the same generic text.
func ErrInvalidGrant() *Error {
	return NewError(ErrorCodeInvalidGrant, invalidGrantDescription, http.StatusBadRequest)
}

// ErrInvalidScope indicates the requested scope exceeds what the client may request
func ErrInvalidScope(desc string) *Error {
	return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
}

// ErrUnsupportedGrantType indicates the grant type is not supported
func ErrUnsupportedGrantType(grantType string) *Error {
	return NewError(ErrorCodeUnsupportedGrantType,
		fmt.Sprintf("grant_type %q is not supported", grantType), http.StatusBadRequest)
}

// ErrUnsupportedResponseType indicates a response_type other than "code"
func ErrUnsupportedResponseType(responseType string) *Error {
	return NewError(ErrorCodeUnsupportedResponseType,
		fmt.Sprintf("response_type %q is not supported", responseType), http.StatusBadRequest)
}

// ErrInvalidRedirectURI indicates a redirect URI rejected at registration
func ErrInvalidRedirectURI(desc string) *Error {
	return NewError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
}

// ErrInvalidClientMetadata indicates registration metadata other than redirect URIs is invalid
func ErrInvalidClientMetadata(desc string) *Error {
	return NewError(ErrorCodeInvalidClientMetadata, desc, http.StatusBadRequest)
}

// ErrAccessDenied indicates the resource owner could not be authenticated
func ErrAccessDenied(desc string) *Error {
	return NewError(ErrorCodeAccessDenied, desc, http.StatusUnauthorized)
}

// ErrInvalidToken indicates a bearer token that is malformed, expired or revoked
func ErrInvalidToken(desc string) *Error {
	return NewError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
}

// ErrInsufficientScope indicates a valid token lacking a required scope
func ErrInsufficientScope(desc string) *Error {
	return NewError(ErrorCodeInsufficientScope, desc, http.StatusForbidden)
}

// ErrServerError indicates an internal failure. Details are logged, never returned.
func ErrServerError() *Error {
	return NewError(ErrorCodeServerError, "internal server error", http.StatusInternalServerError)
}
