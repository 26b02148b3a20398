// Package main is the roomwatch CLI.
//
// Usage:
//
//	roomwatch run -c config.yaml       # run the bot
//	roomwatch validate -c config.yaml  # validate configuration
//	roomwatch check -c config.yaml     # fetch and classify the status page once
//	roomwatch version                  # show version info
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Set at build time: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "roomwatch",
	Short: "Announce game server status changes in chat rooms",
	Long: `roomwatch polls a server status page and tells chat rooms when the
status changes, pinging the people who subscribed in that room.

Secrets can live in a .env file; point telegram.token_env at the variable.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadEnvFile(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "roomwatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", "", "load environment variables from this file (default .env when present)")
	rootCmd.AddCommand(versionCmd)
}

// loadEnvFile loads --env-file, or ./.env if it exists. Variables already set
// in the environment win.
func loadEnvFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("env-file")
	path = strings.TrimSpace(path)
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "./config.yaml", "path to config file (yaml or json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
