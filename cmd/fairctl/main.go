// Command fairctl checks provably-fair games offline and mints bearer tokens
// for local testing.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fairctl",
		Short:         "Provably-fair tooling for the pvp casino backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		CommitCmd(),
		SeedCmd(),
		DeriveCmd(),
		VerifyCmd(),
		TokenCmd(),
	)
	return cmd
}
