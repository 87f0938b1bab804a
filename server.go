package oauth

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/mcp-pkce-authserver/server"
	"github.com/giantswarm/mcp-pkce-authserver/storage/memory"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

// Server is the authorization server core.
type Server = server.Server

// ServerConfig holds the authorization server configuration.
type ServerConfig = server.Config

// CORSConfig holds the browser cross-origin settings of ServerConfig.
type CORSConfig = server.CORSConfig

// NewMemoryServer creates a Server whose clients, users, codes and tokens
// all live in one in-memory store. The store is returned so callers can
// seed users, sweep expired entries and report its size.
func NewMemoryServer(config *ServerConfig, signer *tokens.Signer, logger *slog.Logger) (*Server, *memory.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store := memory.New()
	store.SetLogger(logger)

	srv, err := server.New(store, store, store, store, signer, config, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}
	return srv, store, nil
}
