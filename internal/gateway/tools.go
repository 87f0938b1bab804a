package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

// Tool call results recorded in metrics.
const (
	resultSuccess   = "success"
	resultError     = "error"
	resultForbidden = "forbidden"
)

// WhoAmI is returned by the whoami tool.
type WhoAmI struct {
	Subject   string `json:"sub"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	ExpiresAt int64  `json:"exp"`
}

// StoreStats is returned by the store_stats tool.
type StoreStats struct {
	Clients             int `json:"clients"`
	ConfidentialClients int `json:"confidential_clients"`
	Users               int `json:"users"`
	AuthorizationCodes  int `json:"authorization_codes"`
	AccessTokens        int `json:"access_tokens"`
	RefreshTokens       int `json:"refresh_tokens"`
}

func (g *Gateway) registerTools() {
	g.mcp.AddTool(mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First operand")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second operand")),
		mcp.WithReadOnlyHintAnnotation(true),
	), g.tool("add", ScopeRead, handleArithmetic(func(a, b float64) float64 { return a + b })))

	g.mcp.AddTool(mcp.NewTool("multiply",
		mcp.WithDescription("Multiply two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First factor")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second factor")),
		mcp.WithReadOnlyHintAnnotation(true),
	), g.tool("multiply", ScopeRead, handleArithmetic(func(a, b float64) float64 { return a * b })))

	g.mcp.AddTool(mcp.NewTool("whoami",
		mcp.WithDescription("Describe the caller's access token: subject, client and granted scopes"),
		mcp.WithReadOnlyHintAnnotation(true),
	), g.tool("whoami", ScopeRead, handleWhoAmI))

	g.mcp.AddTool(mcp.NewTool("store_stats",
		mcp.WithDescription("Report how many clients, users, codes and tokens the authorization server holds"),
		mcp.WithReadOnlyHintAnnotation(true),
	), g.tool("store_stats", ScopeAdmin, g.handleStoreStats))
}

// tool wraps handler with the scope check, a span and the tool call metric.
func (g *Gateway) tool(name, scope string, handler mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := g.tracer.Start(ctx, "mcp.tool."+name)
		defer span.End()
		span.SetAttributes(attribute.String(instrumentation.AttrToolName, name))

		claims, ok := tokens.ClaimsFromContext(ctx)
		if !ok {
			g.inst.Metrics().RecordToolCall(ctx, name, resultForbidden)
			instrumentation.SetSpanError(span, "unauthenticated")
			return mcp.NewToolResultError("no verified access token on this request"), nil
		}
		span.SetAttributes(
			attribute.String(instrumentation.AttrClientID, claims.ClientID),
			attribute.String(instrumentation.AttrScope, claims.Scope),
		)
		if !claims.HasScope(scope) {
			g.logger.Debug("Tool call without required scope",
				"tool", name, "client_id", claims.ClientID, "required_scope", scope)
			g.inst.Metrics().RecordToolCall(ctx, name, resultForbidden)
			instrumentation.SetSpanError(span, "insufficient_scope")
			return mcp.NewToolResultError(fmt.Sprintf("insufficient_scope: the %s tool requires the %q scope", name, scope)), nil
		}

		result, err := handler(ctx, request)
		outcome := resultSuccess
		if err != nil || (result != nil && result.IsError) {
			outcome = resultError
			instrumentation.SetSpanError(span, outcome)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		g.inst.Metrics().RecordToolCall(ctx, name, outcome)
		return result, err
	}
}

func handleArithmetic(op func(a, b float64) float64) mcpserver.ToolHandlerFunc {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := request.RequireFloat("a")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		b, err := request.RequireFloat("b")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatNumber(op(a, b))), nil
	}
}

// formatNumber prints integral results without a fraction. Values outside
// the int64 range, infinities and NaN keep the %g form.
func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < math.MinInt64 || v >= math.MaxInt64 {
		return fmt.Sprintf("%g", v)
	}
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func handleWhoAmI(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	claims, _ := tokens.ClaimsFromContext(ctx)
	resp := WhoAmI{
		Subject:  claims.Subject,
		ClientID: claims.ClientID,
		Scope:    claims.Scope,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return jsonResult(resp)
}

func (g *Gateway) handleStoreStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if g.stats == nil {
		return mcp.NewToolResultError("store statistics are not available"), nil
	}
	stats, ok := g.stats.Stats(ctx)
	if !ok {
		return mcp.NewToolResultError("the credential store does not report statistics"), nil
	}
	g.logger.Debug("Store statistics requested")
	return jsonResult(StoreStats{
		Clients:             stats.Clients,
		ConfidentialClients: stats.ConfidentialClients,
		Users:               stats.Users,
		AuthorizationCodes:  stats.AuthorizationCodes,
		AccessTokens:        stats.AccessTokens,
		RefreshTokens:       stats.RefreshTokens,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
