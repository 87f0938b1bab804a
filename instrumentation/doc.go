// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "mcp-authserver",
//		ServiceVersion:  version,
//		Enabled:         true,
//		MetricsExporter: instrumentation.ExporterPrometheus,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", inst.MetricsHandler())
//
// When Enabled is false every meter and tracer is a no-op. A nil
// *Instrumentation and a nil *Metrics are both safe to use.
//
// # Available Metrics
//
// HTTP:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{method, endpoint}
//
// Authorization core:
//   - oauth.client.registered{client_type}
//   - oauth.authorization.started{client_id}
//   - oauth.code.exchanged{client_id, pkce_method}
//   - oauth.grant.rejected{grant_type, reason}
//   - oauth.token.refreshed{client_id}
//   - oauth.token.revoked{token_type}
//   - oauth.token.introspected{active}
//
// Security:
//   - oauth.rate_limit.exceeded{limiter}
//   - oauth.pkce.validation_failed{method}
//   - oauth.code.reuse_detected
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.clients.count, storage.users.count, storage.codes.count,
//     storage.access_tokens.count, storage.refresh_tokens.count
//
// Gateway:
//   - mcp.tool.calls{tool, result}
//
// # Security
//
// Attribute keys in tracing.go describe metadata only. Tokens, codes,
// verifiers and secrets are never recorded in spans or metrics.
package instrumentation
