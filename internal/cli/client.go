package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	oauth "github.com/giantswarm/mcp-pkce-authserver"
	"github.com/giantswarm/mcp-pkce-authserver/server"
)

type clientOptions struct {
	ResourceURL string
	Username    string
	Password    string
	Scope       string
	RedirectURI string
	Timeout     time.Duration
}

func newClientCmd(version string) *cobra.Command {
	opts := clientOptions{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run the full PKCE flow against a running server and call the MCP gateway",
		Long: `Discover the authorization server from the gateway's protected resource
metadata, register a public client, authorize with PKCE as the given user,
exchange the code, call MCP tools with the access token, rotate the refresh
token, introspect and finally revoke it.

The password is taken from --password or MCP_AUTH_CLIENT_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Password == "" {
				opts.Password = os.Getenv("MCP_AUTH_CLIENT_PASSWORD")
			}
			if opts.Username == "" || opts.Password == "" {
				return errors.New("--username and a password are required")
			}
			return runClient(cmd.Context(), cmd.OutOrStdout(), opts, version)
		},
	}

	cmd.Flags().StringVar(&opts.ResourceURL, "resource", "http://localhost:8080/mcp", "URL of the MCP gateway")
	cmd.Flags().StringVarP(&opts.Username, "username", "u", "", "User to authorize as")
	cmd.Flags().StringVar(&opts.Password, "password", "", "Password of the user")
	cmd.Flags().StringVar(&opts.Scope, "scope", "read", "Space-separated scopes to request")
	cmd.Flags().StringVar(&opts.RedirectURI, "redirect-uri", "http://127.0.0.1:8765/callback", "Redirect URI to register")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Timeout of each HTTP request")
	return cmd
}

// demoClient talks to the authorization server and the gateway.
type demoClient struct {
	http *http.Client
	out  io.Writer
}

func runClient(ctx context.Context, out io.Writer, opts clientOptions, version string) error {
	c := &demoClient{http: &http.Client{Timeout: opts.Timeout}, out: out}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	var prm oauth.ProtectedResourceMetadata
	if err := c.getJSON(ctx, resourceMetadataURL(opts.ResourceURL), &prm); err != nil {
		return fmt.Errorf("protected resource metadata: %w", err)
	}
	if len(prm.AuthorizationServers) == 0 {
		return errors.New("protected resource metadata names no authorization server")
	}
	issuer := prm.AuthorizationServers[0]

	var meta oauth.AuthorizationServerMetadata
	if err := c.getJSON(ctx, strings.TrimSuffix(issuer, "/")+server.PathAuthorizationServerMeta, &meta); err != nil {
		return fmt.Errorf("authorization server metadata: %w", err)
	}
	c.printf("authorization server: %s (PKCE methods %s)\n", meta.Issuer, strings.Join(meta.CodeChallengeMethodsSupported, ", "))

	var reg oauth.ClientRegistrationResponse
	if err := c.postJSON(ctx, meta.RegistrationEndpoint, oauth.ClientRegistrationRequest{
		RedirectURIs:            []string{opts.RedirectURI},
		TokenEndpointAuthMethod: "none",
		ClientName:              "mcp-authserver client " + version,
		Scope:                   opts.Scope,
	}, &reg); err != nil {
		return fmt.Errorf("client registration: %w", err)
	}
	c.printf("registered client:    %s\n", reg.ClientID)

	conf := &oauth2.Config{
		ClientID: reg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   meta.AuthorizationEndpoint,
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: opts.RedirectURI,
		Scopes:      strings.Fields(opts.Scope),
	}

	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	code, err := c.authorize(ctx, conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), opts, state, meta.Issuer)
	if err != nil {
		return fmt.Errorf("authorization: %w", err)
	}
	c.printf("authorization code:   received (state verified)\n")

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("code exchange: %w", err)
	}
	c.printf("access token:         expires %s, scope %q\n", tok.Expiry.Format(time.RFC3339), tok.Extra("scope"))

	session := &mcpSession{http: conf.Client(ctx, tok), url: prm.Resource}
	if err := session.initialize(ctx, version); err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}
	for _, call := range []struct {
		tool string
		args map[string]any
	}{
		{"whoami", nil},
		{"add", map[string]any{"a": 2, "b": 3}},
	} {
		text, err := session.callTool(ctx, call.tool, call.args)
		if err != nil {
			return fmt.Errorf("mcp tool %s: %w", call.tool, err)
		}
		c.printf("tool %-16s %s\n", call.tool+":", text)
	}

	refreshed, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	c.printf("refresh:              rotated (new refresh token issued: %t)\n", refreshed.RefreshToken != tok.RefreshToken)

	active, err := c.introspect(ctx, meta.IntrospectionEndpoint, reg.ClientID, refreshed.AccessToken)
	if err != nil {
		return err
	}
	c.printf("introspection:        active=%t\n", active)

	if err := c.postForm(ctx, meta.RevocationEndpoint, url.Values{
		"token":           {refreshed.RefreshToken},
		"token_type_hint": {"refresh_token"},
		"client_id":       {reg.ClientID},
	}, nil); err != nil {
		return fmt.Errorf("revocation: %w", err)
	}
	active, err = c.introspect(ctx, meta.IntrospectionEndpoint, reg.ClientID, refreshed.AccessToken)
	if err != nil {
		return err
	}
	c.printf("after revocation:     active=%t\n", active)
	return nil
}

// resourceMetadataURL inserts the well-known segment before the resource path (RFC 9728 Section 3.1).
func resourceMetadataURL(resource string) string {
	u, err := url.Parse(resource)
	if err != nil {
		return resource
	}
	u.Path = server.PathProtectedResourceMetadata + strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	return u.String()
}

// authorize posts the authorization request with the user's credentials and
// returns the code. POST /authorize answers with JSON instead of a redirect.
func (c *demoClient) authorize(ctx context.Context, authURL string, opts clientOptions, state, issuer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(opts.Username, opts.Password)

	var resp oauth.AuthorizationResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.State != state {
		return "", errors.New("state mismatch")
	}
	if resp.Issuer != issuer {
		return "", fmt.Errorf("unexpected issuer %q", resp.Issuer)
	}
	return resp.Code, nil
}

func (c *demoClient) introspect(ctx context.Context, endpoint, clientID, token string) (bool, error) {
	var resp oauth.IntrospectionResponse
	if err := c.postForm(ctx, endpoint, url.Values{"token": {token}, "client_id": {clientID}}, &resp); err != nil {
		return false, fmt.Errorf("introspection: %w", err)
	}
	return resp.Active, nil
}

func (c *demoClient) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *demoClient) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, dst)
}

func (c *demoClient) postJSON(ctx context.Context, u string, body, dst any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dst)
}

func (c *demoClient) postForm(ctx context.Context, u string, form url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, dst)
}

// do sends req and decodes a 2xx JSON body into dst. OAuth error bodies
// are returned as errors.
func (c *demoClient) do(req *http.Request, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var oerr oauth.ErrorResponse
		if json.Unmarshal(body, &oerr) == nil && oerr.Error != "" {
			return fmt.Errorf("%s: %s (HTTP %d)", oerr.Error, oerr.ErrorDescription, resp.StatusCode)
		}
		return fmt.Errorf("unexpected HTTP %d", resp.StatusCode)
	}
	if dst == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

// mcpSession is a minimal streamable HTTP MCP client. Its http client adds
// the bearer token.
type mcpSession struct {
	http      *http.Client
	url       string
	sessionID string
	nextID    int
}

type rpcResponse struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *mcpSession) initialize(ctx context.Context, version string) error {
	if _, err := s.call(ctx, string(mcp.MethodInitialize), map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities":    map[string]any{},
		"clientInfo":      mcp.Implementation{Name: "mcp-authserver-client", Version: version},
	}); err != nil {
		return err
	}
	return s.notify(ctx, "notifications/initialized")
}

func (s *mcpSession) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	raw, err := s.call(ctx, string(mcp.MethodToolsCall), map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", err
	}
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", err
	}
	var texts []string
	for _, c := range result.Content {
		texts = append(texts, c.Text)
	}
	text := strings.Join(texts, " ")
	if result.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

func (s *mcpSession) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.nextID++
	id := s.nextID
	resp, err := s.post(ctx, map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP %d (%s)", resp.StatusCode, resp.Header.Get("WWW-Authenticate"))
	}
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		s.sessionID = sid
	}

	var rpc rpcResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		rpc, err = readEventStream(resp.Body, id)
	} else {
		err = json.NewDecoder(resp.Body).Decode(&rpc)
	}
	if err != nil {
		return nil, err
	}
	if rpc.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpc.Error.Code, rpc.Error.Message)
	}
	return rpc.Result, nil
}

func (s *mcpSession) notify(ctx context.Context, method string) error {
	resp, err := s.post(ctx, map[string]any{"jsonrpc": "2.0", "method": method})
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected HTTP %d", resp.StatusCode)
	}
	return nil
}

func (s *mcpSession) post(ctx context.Context, msg any) (*http.Response, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if s.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", s.sessionID)
	}
	return s.http.Do(req)
}

// readEventStream returns the response with the given id from an SSE body.
func readEventStream(r io.Reader, id int) (rpcResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		var rpc rpcResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &rpc); err != nil {
			continue
		}
		if rpc.ID != nil && *rpc.ID == id {
			return rpc, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return rpcResponse{}, err
	}
	return rpcResponse{}, errors.New("event stream ended without a response")
}
