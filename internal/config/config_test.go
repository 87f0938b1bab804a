package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	sc := cfg.ServerConfig()
	assert.Equal(t, int64(600), sc.AuthorizationCodeTTL)
	assert.Equal(t, int64(3600), sc.AccessTokenTTL)
	assert.Equal(t, int64(7776000), sc.RefreshTokenTTL)
	assert.Equal(t, int64(0), sc.ClockSkewGracePeriod)
	assert.False(t, sc.AllowPKCEPlain)
	assert.Equal(t, "http://localhost:8080/mcp", sc.ResourceURL)
}

func TestLoad_File(t *testing.T) {
	seed, err := tokens.GenerateSeed()
	require.NoError(t, err)

	path := writeFile(t, "config.yaml", `
addr: ":9000"
issuer: https://auth.example.com
signing_key: `+tokens.EncodeSeed(seed)+`
tokens:
  authorization_code_ttl: 5m
  access_token_ttl: 30m
  refresh_token_ttl: 720h
  clock_skew_grace: 2s
security:
  allow_pkce_plain: true
  require_introspection_auth: true
  rate_limit: 5
scopes:
  supported: [read, write]
  resource: [read]
cors:
  allowed_origins: ["https://app.example.com"]
log:
  level: debug
  format: json
users:
  - username: alice
    password_hash: "`+hash(t, "secret")+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Tokens.AuthorizationCodeTTL)
	assert.Equal(t, 720*time.Hour, cfg.Tokens.RefreshTokenTTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	// unset sections keep their defaults
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "/mcp", cfg.Gateway.Path)

	sc := cfg.ServerConfig()
	assert.Equal(t, int64(300), sc.AuthorizationCodeTTL)
	assert.Equal(t, int64(1800), sc.AccessTokenTTL)
	assert.Equal(t, int64(2592000), sc.RefreshTokenTTL)
	assert.Equal(t, int64(2), sc.ClockSkewGracePeriod)
	assert.True(t, sc.AllowPKCEPlain)
	assert.True(t, sc.RequireIntrospectionAuth)
	assert.Equal(t, float64(5), sc.RateLimit)
	assert.Equal(t, []string{"https://app.example.com"}, sc.CORS.AllowedOrigins)
	assert.Equal(t, "https://auth.example.com/mcp", sc.ResourceURL)

	require.Len(t, cfg.Users, 1)
	assert.NotEmpty(t, cfg.Users[0].ID)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown field",
			content: "issuer: https://a.example\nisuer: typo\n",
			wantErr: "isuer",
		},
		{
			name:    "bad duration",
			content: "tokens:\n  access_token_ttl: forever\n",
			wantErr: "failed to parse config file",
		},
		{
			name:    "zero ttl",
			content: "tokens:\n  authorization_code_ttl: 0s\n",
			wantErr: "tokens.authorization_code_ttl",
		},
		{
			name:    "plaintext password",
			content: "users:\n  - username: bob\n    password_hash: hunter2\n",
			wantErr: "not a bcrypt hash",
		},
		{
			name:    "missing username",
			content: "users:\n  - password_hash: x\n",
			wantErr: "username must not be empty",
		},
		{
			name:    "bad log level",
			content: "log:\n  level: loud\n",
			wantErr: "log.level",
		},
		{
			name:    "bad signing key",
			content: "signing_key: not-a-key\n",
			wantErr: "signing_key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Addr, cfg.Addr)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"MCP_AUTH_ISSUER":               "https://env.example.com",
		"MCP_AUTH_ACCESS_TOKEN_TTL":     "15m",
		"MCP_AUTH_ALLOW_PKCE_PLAIN":     "true",
		"MCP_AUTH_CORS_ALLOWED_ORIGINS": "https://a.example, https://b.example",
		"MCP_AUTH_RESOURCE_SCOPES":      "read write",
		"MCP_AUTH_METRICS_ENABLED":      "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Issuer)
	assert.Equal(t, 15*time.Minute, cfg.Tokens.AccessTokenTTL)
	assert.True(t, cfg.Security.AllowPKCEPlain)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"read", "write"}, cfg.Scopes.Resource)
	assert.False(t, cfg.Metrics.Enabled)

	t.Run("invalid values are all reported", func(t *testing.T) {
		err := Default().applyEnv(envMap(map[string]string{
			"MCP_AUTH_ACCESS_TOKEN_TTL": "1 hour",
			"MCP_AUTH_TRUST_PROXY":      "maybe",
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MCP_AUTH_ACCESS_TOKEN_TTL")
		assert.Contains(t, err.Error(), "MCP_AUTH_TRUST_PROXY")
	})
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("MCP_AUTH_ADDR", ":7000")
	cfg, err := Load(writeFile(t, "config.yaml", "addr: \":9000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
	require.NoError(t, LoadDotEnv(""))

	const key = "MCP_AUTH_REGISTRATION_ACCESS_TOKEN"
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))

	path := writeFile(t, ".env", key+"=from-dotenv\n")
	require.NoError(t, LoadDotEnv(path))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Security.RegistrationAccessToken)
}

func TestValidate_UserIDs(t *testing.T) {
	h := hash(t, "pw")
	newCfg := func() *Config {
		cfg := Default()
		cfg.Users = []UserConfig{
			{Username: "alice", PasswordHash: h},
			{Username: "bob", PasswordHash: h, ID: "fixed-id"},
		}
		return cfg
	}

	a, b := newCfg(), newCfg()
	require.NoError(t, a.Validate())
	require.NoError(t, b.Validate())

	assert.Equal(t, a.Users[0].ID, b.Users[0].ID, "derived IDs are stable across loads")
	assert.Equal(t, "fixed-id", a.Users[1].ID)

	users := a.SeedUsers(time.Unix(1700000000, 0))
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, h, users[0].PasswordHash)

	dup := Default()
	dup.Users = []UserConfig{{Username: "alice", PasswordHash: h}, {Username: "alice", PasswordHash: h}}
	assert.ErrorContains(t, dup.Validate(), "duplicate username")
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
