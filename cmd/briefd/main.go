// Package main provides the briefd CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tannerhall/briefd/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Best effort; a missing .env is fine
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for the briefd CLI.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "briefd",
		Short: "Personal dashboard core: composite briefings plus a live chat mirror",
		Long: "briefd composes independently-fetched dashboard sections into one briefing\n" +
			"and keeps a local mirror of a chat feed correct over an unreliable push connection.",
		Version: version,
	}

	rootCmd.SetVersionTemplate("briefd version {{.Version}}\n")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newInitCmd creates the init subcommand, printing the example config.
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Print an example configuration to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			example, err := config.GetExampleConfig()
			if err != nil {
				return fmt.Errorf("failed to read example config: %w", err)
			}
			cmd.Print(string(example))
			return nil
		},
	}
}

// newVersionCmd creates the version subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show detailed version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("briefd %s\n", version)
			cmd.Printf("  commit: %s\n", commit)
			cmd.Printf("  built:  %s\n", date)
		},
	}
}
