package security

// Event type constants for security audit logging.
const (
	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientRegistrationRejected is logged when registration input is refused
	EventClientRegistrationRejected = "client_registration_rejected"

	// EventClientRegistrationRateLimitExceeded is logged when an IP exceeds its registration window
	EventClientRegistrationRateLimitExceeded = "client_registration_rate_limit_exceeded"

	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is minted
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected is logged when an exchanged code is replayed
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventAuthorizationCodeRevoked is logged when an unexchanged code is revoked
	EventAuthorizationCodeRevoked = "authorization_code_revoked"

	// Token lifecycle events

	// EventTokenIssued is logged when a new access/refresh token pair is issued
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a token is revoked
	EventTokenRevoked = "token_revoked"

	// EventGrantRevoked is logged when every token of a grant is revoked
	EventGrantRevoked = "grant_revoked"

	// Security violation events

	// EventAuthFailure is logged when client or user authentication fails
	EventAuthFailure = "auth_failure"

	// EventInvalidGrant is logged when a code or refresh token is rejected
	EventInvalidGrant = "invalid_grant"

	// EventPKCEValidationFailed is logged when code_verifier validation fails
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventInvalidRedirect is logged when a redirect URI does not match
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a client asks for scopes it was not granted
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventRateLimitExceeded is logged when a request rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
