package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/mcp-pkce-authserver"
	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/internal/config"
	"github.com/giantswarm/mcp-pkce-authserver/internal/gateway"
	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/storage/memory"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func newServeCmd(version string) *cobra.Command {
	var (
		configPath string
		envFile    string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server and the MCP gateway",
		Long: `Run the OAuth 2.1 authorization server, the MCP gateway it protects and,
when metrics are enabled, a Prometheus metrics listener.

Configuration is read from --config (YAML), then MCP_AUTH_* environment
variables. --env-file populates the environment from a .env file first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			logger, err := cfg.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, cfg, version, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file when it exists")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides the configuration file")
	return cmd
}

// stack is the wired application: authorization server, store and router.
type stack struct {
	server  *oauth.Server
	store   *memory.Store
	handler http.Handler
}

// newStack wires the authorization server, the in-memory store and the
// gateway behind one router. inst may be nil.
func newStack(ctx context.Context, cfg *config.Config, inst *instrumentation.Instrumentation, version string, logger *slog.Logger) (*stack, error) {
	signer, err := loadSigner(cfg, logger)
	if err != nil {
		return nil, err
	}

	srv, store, err := oauth.NewMemoryServer(cfg.ServerConfig(), signer, logger)
	if err != nil {
		return nil, err
	}
	srv.SetAuditor(security.NewAuditor(logger, cfg.Security.Audit))
	srv.SetInstrumentation(inst)
	store.SetInstrumentation(inst)

	for _, user := range cfg.SeedUsers(time.Now()) {
		if err := store.SaveUser(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to seed user %q: %w", user.Username, err)
		}
	}

	handlerConfig := oauth.Config{
		ResourceScopes: cfg.Scopes.Resource,
		Logger:         logger,
	}
	if cfg.UserHeader != "" {
		handlerConfig.UserAuthenticator = &oauth.HeaderUserAuthenticator{Server: srv, Header: cfg.UserHeader}
		logger.Warn("Users are authenticated from a request header",
			"header", cfg.UserHeader,
			"risk", "anyone reaching the server directly can impersonate any user",
			"recommendation", "only expose the server behind a proxy that sets and strips this header")
	}
	handler := oauth.NewHandler(srv, handlerConfig)

	var resource http.Handler
	if cfg.Gateway.Enabled {
		gw := gateway.New(gateway.Config{
			Version:          version,
			EndpointPath:     cfg.Gateway.Path,
			Stats:            srv,
			DisableStreaming: cfg.Gateway.DisableStreaming,
			Instrumentation:  inst,
			Logger:           logger,
		})
		resource = gw.Handler()
	}

	logger.Info("Authorization server configured",
		"issuer", cfg.Issuer,
		"users", len(cfg.Users),
		"gateway", cfg.Gateway.Enabled,
		"key_id", signer.KeyID())

	return &stack{
		server:  srv,
		store:   store,
		handler: handler.Router(cfg.Gateway.Path, resource),
	}, nil
}

func loadSigner(cfg *config.Config, logger *slog.Logger) (*tokens.Signer, error) {
	if cfg.SigningKey == "" {
		logger.Warn("No signing key configured, generated an ephemeral one",
			"risk", "all access tokens become invalid when the server restarts",
			"recommendation", "run `mcp-authserver keygen` and set signing_key or MCP_AUTH_SIGNING_KEY")
		return tokens.GenerateSigner(cfg.Issuer)
	}
	seed, err := tokens.DecodeSeed(cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	return tokens.NewSigner(cfg.Issuer, seed)
}

func runServe(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) error {
	instConfig := cfg.InstrumentationConfig(version)
	instConfig.Logger = logger
	inst, err := instrumentation.New(instConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to flush telemetry", "error", err)
		}
	}()

	st, err := newStack(ctx, cfg, inst, version, logger)
	if err != nil {
		return err
	}

	servers := []*http.Server{{
		Addr:              cfg.Addr,
		Handler:           st.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}}
	if h := inst.MetricsHandler(); h != nil && cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", h)
		servers = append(servers, &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			logger.Info("Listening", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", s.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		sweepExpired(gctx, st.store, cfg.Tokens.SweepInterval, logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", s.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// sweepExpired drops expired codes and tokens until ctx is done.
func sweepExpired(ctx context.Context, store *memory.Store, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := store.DeleteExpired(now); n > 0 {
				logger.Debug("Removed expired codes and tokens", "count", n)
			}
		}
	}
}
