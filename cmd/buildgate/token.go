package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"buildgate/internal/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the admin token",
	Long: `Generate the bearer token that protects POST /admin/sync.

Only the bcrypt hash is stored, as server.adminTokenHash in the config or
BUILDGATE_SERVER_ADMINTOKENHASH in the environment.`,
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new admin token and its hash",
	Args:  cobra.NoArgs,
	RunE:  runTokenGenerate,
}

func init() {
	tokenCmd.AddCommand(tokenGenerateCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	token, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Admin token created.")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Token: %s\n", token)
	fmt.Fprintf(out, "  Hash:  %s\n", hash)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Save the token now, it is not shown again. Configure the hash as")
	fmt.Fprintln(out, "server.adminTokenHash and send the token as 'Authorization: Bearer <token>'.")
	return nil
}
