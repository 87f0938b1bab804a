// Package cli implements the mcp-authserver command line.
//
// Commands:
//   - serve: run the authorization server, the MCP gateway and the metrics listener
//   - client: register a client, run the PKCE flow against a running server and call the gateway
//   - keygen: print a new token signing key
//   - hash-password: print a bcrypt hash for a seeded user
//   - version: print the version
package cli
