package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-pkce-authserver/internal/config"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "mcp-authserver version 1.2.3\n", out)
}

func TestKeygenCmd(t *testing.T) {
	out, err := runCmd(t, "", "keygen")
	require.NoError(t, err)

	var encoded string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "signing_key: "); ok {
			encoded = v
		}
	}
	require.NotEmpty(t, encoded, out)

	seed, err := tokens.DecodeSeed(encoded)
	require.NoError(t, err)
	signer, err := tokens.NewSigner("https://auth.example.com", seed)
	require.NoError(t, err)
	assert.Contains(t, out, "# key id: "+signer.KeyID())
}

func TestHashPasswordCmd(t *testing.T) {
	t.Run("from stdin", func(t *testing.T) {
		out, err := runCmd(t, "s3cret\n", "hash-password", "--cost", "4")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))
	})

	t.Run("from flag", func(t *testing.T) {
		out, err := runCmd(t, "", "hash-password", "--cost", "4", "--password", "other")
		require.NoError(t, err)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("other")))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := runCmd(t, "\n", "hash-password")
		assert.Error(t, err)
	})
}

func TestClientCmd_RequiresCredentials(t *testing.T) {
	t.Setenv("MCP_AUTH_CLIENT_PASSWORD", "")
	_, err := runCmd(t, "", "client", "--username", "alice")
	assert.ErrorContains(t, err, "password")
}

func TestResourceMetadataURL(t *testing.T) {
	assert.Equal(t, "https://rs.example.com/.well-known/oauth-protected-resource/mcp",
		resourceMetadataURL("https://rs.example.com/mcp"))
	assert.Equal(t, "http://127.0.0.1:8080/.well-known/oauth-protected-resource",
		resourceMetadataURL("http://127.0.0.1:8080/"))
}

// startStack serves the fully wired application on a loopback listener whose
// address is also the issuer.
func startStack(t *testing.T, configure func(*config.Config)) (*stack, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	issuer := "http://" + ln.Addr().String()

	hash, err := bcrypt.GenerateFromPassword([]byte("wonderland"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Issuer = issuer
	cfg.Security.RateLimit = 1000
	cfg.Security.RateLimitBurst = 1000
	cfg.Users = []config.UserConfig{{Username: "alice", PasswordHash: string(hash)}}
	if configure != nil {
		configure(cfg)
	}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := newStack(context.Background(), cfg, nil, "test", logger)
	require.NoError(t, err)

	ts := httptest.NewUnstartedServer(st.handler)
	_ = ts.Listener.Close()
	ts.Listener = ln
	ts.Start()
	t.Cleanup(ts.Close)
	return st, issuer
}

func TestClient_EndToEnd(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		name := "json"
		if streaming {
			name = "streaming"
		}
		t.Run(name, func(t *testing.T) {
			st, issuer := startStack(t, func(cfg *config.Config) {
				cfg.Gateway.DisableStreaming = !streaming
			})

			var out bytes.Buffer
			err := runClient(context.Background(), &out, clientOptions{
				ResourceURL: issuer + "/mcp",
				Username:    "alice",
				Password:    "wonderland",
				Scope:       "read",
				RedirectURI: "http://127.0.0.1:8765/callback",
				Timeout:     10 * time.Second,
			}, "test")
			require.NoError(t, err, out.String())

			text := out.String()
			assert.Contains(t, text, "registered client:")
			assert.Contains(t, text, "add:")
			assert.Contains(t, text, " 5\n")
			assert.Contains(t, text, "new refresh token issued: true")
			assert.Contains(t, text, "introspection:        active=true")
			assert.Contains(t, text, "after revocation:     active=false")

			stats, ok := st.server.Stats(context.Background())
			require.True(t, ok)
			assert.Equal(t, 1, stats.Clients)
			assert.Equal(t, 1, stats.Users)
			assert.Equal(t, 0, stats.RefreshTokens)
		})
	}
}

func TestClient_WrongPassword(t *testing.T) {
	_, issuer := startStack(t, nil)

	err := runClient(context.Background(), io.Discard, clientOptions{
		ResourceURL: issuer + "/mcp",
		Username:    "alice",
		Password:    "guess",
		Scope:       "read",
		RedirectURI: "http://127.0.0.1:8765/callback",
		Timeout:     10 * time.Second,
	}, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization")
	assert.Contains(t, err.Error(), "access_denied")
}

func TestSweepExpired_StopsWithContext(t *testing.T) {
	st, _ := startStack(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweepExpired(ctx, st.store, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweepExpired did not return after cancel")
	}
}
