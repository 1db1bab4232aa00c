/**
 * @description
 * This is the main entry point for the wallet-service. It exposes a small
 * command line with two subcommands: `serve` runs the HTTP and realtime server,
 * and `migrate` applies the embedded database schema.
 *
 * @dependencies
 * - github.com/spf13/cobra: Command line parsing.
 * - github.com/joho/godotenv: For loading .env files during local development.
 */

package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wallet-service",
		Short: "Account directory, funds transfers and realtime transfer notifications",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}
