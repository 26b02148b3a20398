package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"roomwatch/internal/config"
	"roomwatch/internal/status"
	logx "roomwatch/pkg/logx"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch the status page once and print what the bot would see",
	RunE:  runCheck,
}

func init() {
	addConfigFlag(checkCmd)
	checkCmd.Flags().Duration("timeout", 15*time.Second, "overall timeout")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := config.NewManager(cfgPath, logx.Nop()).Load()
	if err != nil {
		return err
	}
	p, err := status.NewHTTPProvider(cfg.StatusConfig(), nil, logx.Nop())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	obs, err := p.Check(ctx)
	if err != nil {
		return fmt.Errorf("check %s: %w", cfg.Status.URL, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", obs.Code, obs.Text)
	return nil
}
