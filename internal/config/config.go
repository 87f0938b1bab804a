package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/server"
	"github.com/giantswarm/mcp-pkce-authserver/storage"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MCP_AUTH_"

// Config is the configuration of the mcp-authserver binary.
type Config struct {
	// Addr is the listen address of the authorization server and gateway
	Addr string `yaml:"addr"`

	// Issuer is the public base URL of the server
	Issuer string `yaml:"issuer"`

	// SigningKey is a base64url ed25519 seed as printed by `keygen`.
	// When empty a key is generated at startup and tokens do not survive a restart.
	SigningKey string `yaml:"signing_key"`

	Tokens   TokensConfig   `yaml:"tokens"`
	Security SecurityConfig `yaml:"security"`
	Scopes   ScopesConfig   `yaml:"scopes"`
	CORS     CORSConfig     `yaml:"cors"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`

	// UserHeader switches user authentication at /authorize from HTTP Basic
	// to a header set by a trusted login proxy
	UserHeader string `yaml:"user_header"`

	Users []UserConfig `yaml:"users"`
}

// TokensConfig holds lifetimes, written as Go duration strings ("10m", "2160h").
type TokensConfig struct {
	AuthorizationCodeTTL time.Duration `yaml:"authorization_code_ttl"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl"`
	ClockSkewGrace       time.Duration `yaml:"clock_skew_grace"`

	// SweepInterval is how often expired codes and tokens are dropped from the store
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SecurityConfig mirrors the security switches of server.Config.
type SecurityConfig struct {
	AllowPKCEPlain             bool    `yaml:"allow_pkce_plain"`
	RequireHTTPSRedirectURIs   bool    `yaml:"require_https_redirect_uris"`
	AllowInsecureHTTP          bool    `yaml:"allow_insecure_http"`
	DisableCodeReuseRevocation bool    `yaml:"disable_code_reuse_revocation"`
	RequireIntrospectionAuth   bool    `yaml:"require_introspection_auth"`
	RegistrationAccessToken    string  `yaml:"registration_access_token"`
	TrustProxy                 bool    `yaml:"trust_proxy"`
	TrustedProxyCount          int     `yaml:"trusted_proxy_count"`
	RateLimit                  float64 `yaml:"rate_limit"`
	RateLimitBurst             int     `yaml:"rate_limit_burst"`
	MaxRegistrationsPerHour    int     `yaml:"max_registrations_per_hour"`
	Audit                      bool    `yaml:"audit"`
}

// ScopesConfig controls the scopes clients may use and the resource requires.
type ScopesConfig struct {
	Supported []string `yaml:"supported"`
	Default   []string `yaml:"default"`

	// Resource scopes are required on every request to the gateway
	Resource []string `yaml:"resource"`
}

// CORSConfig mirrors server.CORSConfig.
type CORSConfig struct {
	AllowedOrigins      []string `yaml:"allowed_origins"`
	AllowWildcardOrigin bool     `yaml:"allow_wildcard_origin"`
	AllowCredentials    bool     `yaml:"allow_credentials"`
	MaxAge              int      `yaml:"max_age"`
}

// GatewayConfig configures the MCP protected resource.
type GatewayConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Path             string `yaml:"path"`
	DisableStreaming bool   `yaml:"disable_streaming"`
}

// MetricsConfig configures instrumentation and the metrics listener.
type MetricsConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Addr            string  `yaml:"addr"`
	Exporter        string  `yaml:"exporter"`
	TracingExporter string  `yaml:"tracing_exporter"`
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`
	OTLPInsecure    bool    `yaml:"otlp_insecure"`
	SamplingRate    float64 `yaml:"sampling_rate"`
	LogClientIPs    bool    `yaml:"log_client_ips"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

// UserConfig is a seeded resource owner.
type UserConfig struct {
	// ID defaults to a UUID derived from the issuer and username
	ID           string `yaml:"id"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Addr:   ":8080",
		Issuer: "http://localhost:8080",
		Tokens: TokensConfig{
			AuthorizationCodeTTL: 10 * time.Minute,
			AccessTokenTTL:       time.Hour,
			RefreshTokenTTL:      90 * 24 * time.Hour,
			SweepInterval:        time.Minute,
		},
		Security: SecurityConfig{
			TrustedProxyCount:       1,
			RateLimit:               10,
			RateLimitBurst:          20,
			MaxRegistrationsPerHour: 10,
			Audit:                   true,
		},
		Scopes: ScopesConfig{
			Supported: []string{"read", "write", "admin"},
			Default:   []string{"read"},
			Resource:  []string{"read"},
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Path:    "/mcp",
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			Addr:            ":9090",
			Exporter:        instrumentation.ExporterPrometheus,
			TracingExporter: instrumentation.ExporterNone,
			SamplingRate:    1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error. Variables already set are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path (optional), applies MCP_AUTH_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides fields from environment variables. lookup is
// os.LookupEnv outside of tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = splitList(v)
		}
	}

	str("ADDR", &c.Addr)
	str("ISSUER", &c.Issuer)
	str("SIGNING_KEY", &c.SigningKey)
	str("USER_HEADER", &c.UserHeader)
	str("REGISTRATION_ACCESS_TOKEN", &c.Security.RegistrationAccessToken)
	duration("AUTHORIZATION_CODE_TTL", &c.Tokens.AuthorizationCodeTTL)
	duration("ACCESS_TOKEN_TTL", &c.Tokens.AccessTokenTTL)
	duration("REFRESH_TOKEN_TTL", &c.Tokens.RefreshTokenTTL)
	duration("CLOCK_SKEW_GRACE", &c.Tokens.ClockSkewGrace)
	boolean("ALLOW_PKCE_PLAIN", &c.Security.AllowPKCEPlain)
	boolean("REQUIRE_HTTPS_REDIRECT_URIS", &c.Security.RequireHTTPSRedirectURIs)
	boolean("ALLOW_INSECURE_HTTP", &c.Security.AllowInsecureHTTP)
	boolean("REQUIRE_INTROSPECTION_AUTH", &c.Security.RequireIntrospectionAuth)
	boolean("TRUST_PROXY", &c.Security.TrustProxy)
	list("SUPPORTED_SCOPES", &c.Scopes.Supported)
	list("RESOURCE_SCOPES", &c.Scopes.Resource)
	list("CORS_ALLOWED_ORIGINS", &c.CORS.AllowedOrigins)
	boolean("GATEWAY_ENABLED", &c.Gateway.Enabled)
	boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("METRICS_EXPORTER", &c.Metrics.Exporter)
	str("TRACING_EXPORTER", &c.Metrics.TracingExporter)
	str("OTLP_ENDPOINT", &c.Metrics.OTLPEndpoint)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the configuration and fills derived user IDs.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.Issuer == "" {
		errs = append(errs, errors.New("issuer must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"tokens.authorization_code_ttl": c.Tokens.AuthorizationCodeTTL,
		"tokens.access_token_ttl":       c.Tokens.AccessTokenTTL,
		"tokens.refresh_token_ttl":      c.Tokens.RefreshTokenTTL,
	} {
		if d < time.Second {
			errs = append(errs, fmt.Errorf("%s must be at least 1s, got %s", name, d))
		}
	}
	if c.Tokens.ClockSkewGrace < 0 {
		errs = append(errs, errors.New("tokens.clock_skew_grace must not be negative"))
	}
	if c.SigningKey != "" {
		if _, err := tokens.DecodeSeed(c.SigningKey); err != nil {
			errs = append(errs, fmt.Errorf("signing_key: %w", err))
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Gateway.Enabled && !strings.HasPrefix(c.Gateway.Path, "/") {
		errs = append(errs, fmt.Errorf("gateway.path must start with /, got %q", c.Gateway.Path))
	}

	seen := make(map[string]bool, len(c.Users))
	for i := range c.Users {
		u := &c.Users[i]
		if u.Username == "" {
			errs = append(errs, fmt.Errorf("users[%d]: username must not be empty", i))
			continue
		}
		if seen[u.Username] {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate username %q", i, u.Username))
		}
		seen[u.Username] = true
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("users[%d]: password_hash is not a bcrypt hash (use `mcp-authserver hash-password`)", i))
		}
		if u.ID == "" {
			u.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.Issuer+"/users/"+u.Username)).String()
		}
	}
	return errors.Join(errs...)
}

// ServerConfig converts the file configuration to the authorization server's.
func (c *Config) ServerConfig() *server.Config {
	return &server.Config{
		Issuer:                     c.Issuer,
		ResourceURL:                strings.TrimSuffix(c.Issuer, "/") + c.Gateway.Path,
		AuthorizationCodeTTL:       seconds(c.Tokens.AuthorizationCodeTTL),
		AccessTokenTTL:             seconds(c.Tokens.AccessTokenTTL),
		RefreshTokenTTL:            seconds(c.Tokens.RefreshTokenTTL),
		ClockSkewGracePeriod:       seconds(c.Tokens.ClockSkewGrace),
		AllowPKCEPlain:             c.Security.AllowPKCEPlain,
		RequireHTTPSRedirectURIs:   c.Security.RequireHTTPSRedirectURIs,
		AllowInsecureHTTP:          c.Security.AllowInsecureHTTP,
		SupportedScopes:            c.Scopes.Supported,
		DefaultScopes:              c.Scopes.Default,
		DisableCodeReuseRevocation: c.Security.DisableCodeReuseRevocation,
		RegistrationAccessToken:    c.Security.RegistrationAccessToken,
		RequireIntrospectionAuth:   c.Security.RequireIntrospectionAuth,
		TrustProxy:                 c.Security.TrustProxy,
		TrustedProxyCount:          c.Security.TrustedProxyCount,
		RateLimit:                  c.Security.RateLimit,
		RateLimitBurst:             c.Security.RateLimitBurst,
		MaxRegistrationsPerHour:    c.Security.MaxRegistrationsPerHour,
		CORS: server.CORSConfig{
			AllowedOrigins:      c.CORS.AllowedOrigins,
			AllowWildcardOrigin: c.CORS.AllowWildcardOrigin,
			AllowCredentials:    c.CORS.AllowCredentials,
			MaxAge:              c.CORS.MaxAge,
		},
	}
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// InstrumentationConfig converts the metrics section.
func (c *Config) InstrumentationConfig(version string) instrumentation.Config {
	return instrumentation.Config{
		ServiceVersion:    version,
		Enabled:           c.Metrics.Enabled,
		LogClientIPs:      c.Metrics.LogClientIPs,
		MetricsExporter:   c.Metrics.Exporter,
		TracingExporter:   c.Metrics.TracingExporter,
		OTLPEndpoint:      c.Metrics.OTLPEndpoint,
		OTLPInsecure:      c.Metrics.OTLPInsecure,
		TraceSamplingRate: c.Metrics.SamplingRate,
	}
}

// SeedUsers returns the configured users as store entities.
func (c *Config) SeedUsers(now time.Time) []*storage.User {
	users := make([]*storage.User, 0, len(c.Users))
	for _, u := range c.Users {
		users = append(users, &storage.User{
			ID:           u.ID,
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			CreatedAt:    now,
		})
	}
	return users
}

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
