// Package config loads the mcp-authserver configuration.
//
// Values are resolved in order: built-in defaults, the YAML file, then
// MCP_AUTH_* environment variables (optionally populated from a .env file).
// Durations are Go duration strings. Seeded users carry bcrypt password
// hashes and get a stable UUID derived from the issuer and username when no
// ID is given.
package config
