package gateway

import (
	"context"
	"log/slog"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

// Scopes checked by the gateway tools.
const (
	ScopeRead  = "read"
	ScopeAdmin = "admin"
)

// StatsProvider reports the size of the credential store.
// *server.Server implements it.
type StatsProvider interface {
	Stats(ctx context.Context) (storage.Stats, bool)
}

// Config configures the gateway.
type Config struct {
	// Name and Version are reported to MCP clients during initialization
	Name    string
	Version string

	// EndpointPath is where the streamable HTTP transport is mounted. Default: /mcp
	EndpointPath string

	// Stats backs the store_stats tool. Optional.
	Stats StatsProvider

	// DisableStreaming makes the transport answer with plain JSON instead of SSE
	DisableStreaming bool

	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// Gateway is the MCP server exposed as the protected resource.
type Gateway struct {
	mcp     *mcpserver.MCPServer
	handler *mcpserver.StreamableHTTPServer

	stats  StatsProvider
	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
	logger *slog.Logger
}

// New creates the gateway and registers its tools.
func New(cfg Config) *Gateway {
	if cfg.Name == "" {
		cfg.Name = "mcp-pkce-authserver"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &Gateway{
		mcp: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
		),
		stats:  cfg.Stats,
		inst:   cfg.Instrumentation,
		tracer: cfg.Instrumentation.Tracer("gateway"),
		logger: cfg.Logger,
	}
	g.registerTools()

	g.handler = mcpserver.NewStreamableHTTPServer(g.mcp,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithDisableStreaming(cfg.DisableStreaming),
		mcpserver.WithHTTPContextFunc(claimsContext),
	)
	return g
}

// MCPServer returns the underlying MCP server.
func (g *Gateway) MCPServer() *mcpserver.MCPServer {
	return g.mcp
}

// Handler returns the streamable HTTP transport. Mount it behind the
// bearer token middleware.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// claimsContext carries the verified token claims from the HTTP request
// into the context tool handlers receive.
func claimsContext(ctx context.Context, r *http.Request) context.Context {
	if claims, ok := tokens.ClaimsFromContext(r.Context()); ok {
		return tokens.ContextWithClaims(ctx, claims)
	}
	return ctx
}
