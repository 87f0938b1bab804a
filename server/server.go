package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

// tokenIDLogLength is the number of characters of a code or token included in logs
const tokenIDLogLength = 8

// Server implements the OAuth 2.1 authorization core: client registration,
// the authorization code flow with PKCE, token issuance and rotation,
// introspection and revocation.
type Server struct {
	clientStore storage.ClientStore
	userStore   storage.UserStore
	flowStore   storage.FlowStore
	tokenStore  storage.TokenStore
	signer      *tokens.Signer

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	now             func() time.Time
}

// New creates a new OAuth server. The signer's issuer must match config.Issuer.
func New(
	clientStore storage.ClientStore,
	userStore storage.UserStore,
	flowStore storage.FlowStore,
	tokenStore storage.TokenStore,
	signer *tokens.Signer,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if userStore == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if flowStore == nil {
		return nil, fmt.Errorf("flow store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("token signer is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if signer.Issuer() != config.Issuer {
		return nil, fmt.Errorf("signer issuer %q does not match configured issuer %q", signer.Issuer(), config.Issuer)
	}

	config = applySecureDefaults(config, logger)
	if err := validateCORSConfig(config, logger); err != nil {
		return nil, err
	}

	srv := &Server{
		clientStore: clientStore,
		userStore:   userStore,
		flowStore:   flowStore,
		tokenStore:  tokenStore,
		signer:      signer,
		Config:      config,
		Logger:      logger,
		tracer:      tracenoop.NewTracerProvider().Tracer("server"),
		now:         time.Now,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	signer.SetLeeway(config.GracePeriod())

	// Configure the store's expiry tolerance if it supports it
	type gracePeriodSetter interface {
		SetClockSkewGracePeriod(d time.Duration)
	}
	for _, st := range []any{flowStore, tokenStore} {
		if setter, ok := st.(gracePeriodSetter); ok {
			setter.SetClockSkewGracePeriod(config.GracePeriod())
		}
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables tracing and metrics for server operations
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	s.tracer = inst.Tracer("server")
}

// Instrumentation returns the configured instrumentation, possibly nil
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.instrumentation
}

// SetClock replaces the time source. Intended for tests.
func (s *Server) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Signer returns the access token signer
func (s *Server) Signer() *tokens.Signer {
	return s.signer
}

// Stats returns store sizes when the token store can report them, with the
// registered clients broken down by type.
func (s *Server) Stats(ctx context.Context) (storage.Stats, bool) {
	sp, ok := s.tokenStore.(storage.StatsProvider)
	if !ok {
		return storage.Stats{}, false
	}
	stats := sp.Stats(ctx)

	clients, err := s.clientStore.ListClients(ctx)
	if err != nil {
		s.Logger.Warn("Failed to list clients for statistics", "error", err)
		return stats, true
	}
	for _, c := range clients {
		if c.IsConfidential() {
			stats.ConfidentialClients++
		}
	}
	return stats, true
}

// generateRandomToken generates a cryptographically secure random token:
// 32 random bytes, base64url encoded (43 characters).
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
