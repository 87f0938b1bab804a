// Package gateway serves the protected resource of the authorization server:
// a small MCP server over streamable HTTP.
//
// Every request reaching the gateway has already passed the bearer token
// middleware of the oauth package, which stores the verified claims in the
// request context. Tools check the granted scopes themselves:
//
//   - add, multiply and whoami require the "read" scope
//   - store_stats requires the "admin" scope
package gateway
