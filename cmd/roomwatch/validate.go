package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"roomwatch/internal/config"
	logx "roomwatch/pkg/logx"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a configuration file without starting the bot.

Exit codes:
  0 - config is valid
  1 - config is invalid (details on stderr)`,
	RunE: runValidate,
}

func init() {
	addConfigFlag(validateCmd)
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewManager(cfgPath, logx.Nop()).Load()
	if err != nil {
		return err
	}

	wc := cfg.WatchConfig()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Config is valid!")
	fmt.Fprintf(out, "  Status URL: %s\n", cfg.Status.URL)
	fmt.Fprintf(out, "  Interval:   %s\n", wc.Interval)
	fmt.Fprintf(out, "  Storage:    %s\n", storageName(cfg.Storage.Driver))
	fmt.Fprintf(out, "  Ops server: %t\n", cfg.Ops.Enabled)
	return nil
}

func storageName(d string) string {
	if d == "" {
		return "memory"
	}
	return d
}
