package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-pkce-authserver/tokens"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing key for the configuration file",
		Long: `Generate a random Ed25519 seed for signing access tokens.

Paste the output into the configuration file, or export it as
MCP_AUTH_SIGNING_KEY. Without a configured key the server generates one at
startup and every token becomes invalid on restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed, err := tokens.GenerateSeed()
			if err != nil {
				return err
			}
			// the issuer does not affect the key ID
			signer, err := tokens.NewSigner("http://localhost", seed)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "# key id: %s\nsigning_key: %s\n", signer.KeyID(), tokens.EncodeSeed(seed))
			return err
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	var (
		password string
		cost     int
	)

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a user password for the users section of the configuration",
		Long: `Hash a password with bcrypt. The password is read from --password or,
when the flag is absent, from the first line of standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("password") {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no password given on standard input")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return err
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Password to hash (visible in the process list, prefer standard input)")
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
