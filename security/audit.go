package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor writes security events as structured log records tagged audit=true.
// User IDs never appear in clear text; only a truncated SHA-256 is logged.
// A nil Auditor is valid and logs nothing.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event is one audit record. Details are emitted as a "details" group.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// warnEvents are logged at WARN, everything else at INFO.
var warnEvents = map[string]bool{
	EventAuthFailure:                         true,
	EventInvalidGrant:                        true,
	EventPKCEValidationFailed:                true,
	EventInvalidRedirect:                     true,
	EventScopeEscalationAttempt:              true,
	EventRateLimitExceeded:                   true,
	EventClientRegistrationRateLimitExceeded: true,
	EventAuthorizationCodeReuseDetected:      true,
}

// LogEvent writes event.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := make([]slog.Attr, 0, 7)
	attrs = append(attrs,
		slog.Bool("audit", true),
		slog.String("event_type", event.Type),
		slog.String("user_id_hash", hashForLogging(event.UserID)),
		slog.String("client_id", event.ClientID),
		slog.Time("timestamp", event.Timestamp),
	)
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if len(event.Details) > 0 {
		details := make([]any, 0, len(event.Details))
		for k, v := range event.Details {
			details = append(details, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("details", details...))
	}

	level := slog.LevelInfo
	if warnEvents[event.Type] {
		level = slog.LevelWarn
	}
	a.logger.LogAttrs(context.Background(), level, "security_audit", attrs...)
}

func (a *Auditor) log(eventType, userID, clientID, ip string, details map[string]any) {
	a.LogEvent(Event{Type: eventType, UserID: userID, ClientID: clientID, IPAddress: ip, Details: details})
}

// LogClientRegistered records a new client.
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.log(EventClientRegistered, "", clientID, ipAddress, map[string]any{"client_type": clientType})
}

// LogCodeIssued records an authorization code minted for a user.
func (a *Auditor) LogCodeIssued(userID, clientID, ipAddress, scope string) {
	a.log(EventAuthorizationCodeIssued, userID, clientID, ipAddress, map[string]any{"scope": scope})
}

// LogTokenIssued records a token pair issued from a code.
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, scope string) {
	a.log(EventTokenIssued, userID, clientID, ipAddress, map[string]any{"scope": scope})
}

// LogTokenRefreshed records a refresh token rotation.
func (a *Auditor) LogTokenRefreshed(userID, clientID, ipAddress string) {
	a.log(EventTokenRefreshed, userID, clientID, ipAddress, nil)
}

// LogTokenRevoked records a revocation request that removed a credential.
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress, tokenType string) {
	a.log(EventTokenRevoked, userID, clientID, ipAddress, map[string]any{"token_type": tokenType})
}

// LogCodeReuseDetected records a replayed authorization code and how many
// tokens were revoked in response.
func (a *Auditor) LogCodeReuseDetected(userID, clientID, ipAddress string, revoked int) {
	a.log(EventAuthorizationCodeReuseDetected, userID, clientID, ipAddress, map[string]any{"tokens_revoked": revoked})
}

// LogAuthFailure records a failed client or user authentication, or a rejected grant.
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.log(EventAuthFailure, userID, clientID, ipAddress, map[string]any{"reason": reason})
}

// LogRateLimitExceeded records a request refused by the per-IP limiter.
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.log(EventRateLimitExceeded, "", "", ipAddress, map[string]any{"endpoint": endpoint})
}

// hashForLogging returns the first 16 hex characters of the SHA-256 of s.
func hashForLogging(s string) string {
	if s == "" {
		return "<empty>"
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
