package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. These describe metadata only; never set them to
// token, code, verifier or secret values.
const (
	AttrClientID     = "oauth.client_id"
	AttrUserID       = "oauth.user_id"
	AttrScope        = "oauth.scope"
	AttrPKCEMethod   = "oauth.pkce.method"
	AttrGrantType    = "oauth.grant_type"
	AttrClientType   = "oauth.client_type"
	AttrTokenType    = "oauth.token_type" //nolint:gosec // token type name, not a credential
	AttrCodeReuse    = "oauth.code.reuse"
	AttrActive       = "oauth.introspection.active"
	AttrError        = "oauth.error"
	AttrClientIP     = "security.client_ip"
	AttrHTTPEndpoint = "http.endpoint"
	AttrHTTPMethod   = "http.method"
	AttrHTTPStatus   = "http.status_code"
	AttrToolName     = "mcp.tool"
)

// RecordError records an error on a span with an error status (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status with an OAuth error code on a span (nil-safe)
func SetSpanError(span trace.Span, code string) {
	if span != nil {
		span.SetAttributes(attribute.String(AttrError, code))
		span.SetStatus(codes.Error, code)
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if span == nil {
		return
	}
	if clientID != "" {
		span.SetAttributes(attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		span.SetAttributes(attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		span.SetAttributes(attribute.String(AttrScope, scope))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatus, statusCode),
	)
}
