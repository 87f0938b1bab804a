package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the mcp-authserver command tree.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcp-authserver",
		Short: "OAuth 2.1 authorization server with PKCE for MCP servers",
		Long: `mcp-authserver issues access tokens to MCP clients using the OAuth 2.1
authorization code flow with PKCE, and serves an MCP gateway that only
accepts those tokens.

Start it with "mcp-authserver serve" and try the whole flow with
"mcp-authserver client".`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(`{{printf "mcp-authserver version %s\n" .Version}}`)

	rootCmd.AddCommand(newServeCmd(version))
	rootCmd.AddCommand(newClientCmd(version))
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newHashPasswordCmd())
	rootCmd.AddCommand(newVersionCmd(version))
	return rootCmd
}

// Execute runs the CLI and exits non-zero on failure.
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
