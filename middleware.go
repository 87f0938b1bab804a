package oauth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-pkce-authserver/instrumentation"
	"github.com/giantswarm/mcp-pkce-authserver/internal/util"
	"github.com/giantswarm/mcp-pkce-authserver/security"
	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

// instrument records request count, duration and a span per request,
// labelled with the matched route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "http "+r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := float64(time.Since(start).Microseconds()) / 1000

		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
		h.server.Instrumentation().Metrics().RecordHTTPRequest(ctx, r.Method, endpoint, status, duration)
		h.logger.Debug("HTTP request",
			"method", r.Method,
			"endpoint", endpoint,
			"status", status,
			"duration_ms", duration,
			"request_id", security.GetRequestID(ctx))
	})
}

// rateLimit rejects clients exceeding the per-IP request rate with 429.
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	if h.config.RateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)
		if h.config.RateLimiter.Allow(clientIP) {
			next.ServeHTTP(w, r)
			return
		}

		h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", r.URL.Path)
		h.server.Instrumentation().Metrics().RecordRateLimitExceeded(r.Context(), "ip")
		h.server.Auditor.LogRateLimitExceeded(clientIP, r.URL.Path)

		retryAfter := 1
		if rate := h.server.Config.RateLimit; rate > 0 && rate < 1 {
			retryAfter = int(1/rate) + 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, r, NewOAuthError(ErrorCodeRateLimitExceeded,
			"rate limit exceeded, retry later", http.StatusTooManyRequests))
	})
}

// cors applies ServerConfig.CORS. Preflight requests are answered here
// and never reach the endpoint.
func (h *Handler) cors(next http.Handler) http.Handler {
	cfg := h.server.Config.CORS
	if !cfg.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Add("Vary", "Origin")
			if cfg.AllowsOrigin(origin) {
				hdr := w.Header()
				hdr.Set("Access-Control-Allow-Origin", origin)
				if cfg.AllowCredentials {
					hdr.Set("Access-Control-Allow-Credentials", "true")
				}
				hdr.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				hdr.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id, Mcp-Protocol-Version")
				hdr.Set("Access-Control-Expose-Headers", "WWW-Authenticate, Mcp-Session-Id")
				hdr.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
			} else {
				h.logger.Debug("CORS request from disallowed origin", "origin", origin)
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.ServePreflightRequest(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ValidateToken is middleware that requires a valid access token issued by
// this server. The verified claims are available downstream through
// tokens.ClaimsFromContext.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			// no error code when the request carries no credentials (RFC 6750 Section 3.1)
			h.writeBearerChallenge(w, http.StatusUnauthorized, "", "", "")
			return
		}

		claims, err := h.server.ValidateAccessToken(r.Context(), token)
		if err != nil {
			oauthErr := AsOAuthError(err)
			if oauthErr.Status >= http.StatusInternalServerError {
				h.writeError(w, r, err)
				return
			}
			h.logger.Debug("Token validation failed", "ip", h.clientIP(r), "error", err)
			h.writeBearerChallenge(w, http.StatusUnauthorized, "", ErrorCodeInvalidToken, oauthErr.Description)
			return
		}

		next.ServeHTTP(w, r.WithContext(tokens.ContextWithClaims(r.Context(), claims)))
	})
}

// RequireScopes returns middleware rejecting tokens that lack any of
// scopes with 403 insufficient_scope. It must run after ValidateToken.
func (h *Handler) RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	required := util.NormalizeScopes(scopes)
	return func(next http.Handler) http.Handler {
		if len(required) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := tokens.ClaimsFromContext(r.Context())
			if !ok {
				h.writeBearerChallenge(w, http.StatusUnauthorized, "", "", "")
				return
			}
			if !util.ScopesSubset(required, claims.Scopes()) {
				h.writeBearerChallenge(w, http.StatusForbidden, util.FormatScope(required),
					ErrorCodeInsufficientScope, "the access token lacks a required scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeBearerChallenge writes a resource server error with a Bearer
// challenge pointing at the protected resource metadata (RFC 9728 Section 5.1).
func (h *Handler) writeBearerChallenge(w http.ResponseWriter, status int, scope, errCode, errDesc string) {
	w.Header().Set("WWW-Authenticate", h.formatWWWAuthenticate(scope, errCode, errDesc))
	if errCode == "" {
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		w.WriteHeader(status)
		return
	}
	h.writeJSON(w, status, ErrorResponse{Error: errCode, ErrorDescription: errDesc})
}

// formatWWWAuthenticate formats a Bearer challenge (RFC 6750 Section 3).
//
// Example output:
//
//	Bearer resource_metadata="https://auth.example.com/.well-known/oauth-protected-resource",
//	       scope="mcp:read", error="insufficient_scope"
func (h *Handler) formatWWWAuthenticate(scope, errCode, errDesc string) string {
	params := []string{fmt.Sprintf(`resource_metadata="%s"`, h.server.ResourceMetadataURL())}
	if scope != "" {
		params = append(params, fmt.Sprintf(`scope="%s"`, quoteEscape(scope)))
	}
	if errCode != "" {
		params = append(params, fmt.Sprintf(`error="%s"`, errCode))
	}
	if errDesc != "" {
		params = append(params, fmt.Sprintf(`error_description="%s"`, quoteEscape(errDesc)))
	}
	return tokenTypeBearer + " " + strings.Join(params, ", ")
}

// quoteEscape escapes a value for an HTTP quoted-string. Backslashes go first.
func quoteEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
