package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"roomwatch/internal/app"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot",
	Long: `Run the bot until interrupted (Ctrl+C) or SIGTERM.

The config file is watched; valid edits are applied without a restart.
Under systemd (Type=notify) readiness and shutdown are reported.`,
	RunE: runBot,
}

func init() {
	addConfigFlag(runCmd)
	rootCmd.AddCommand(runCmd)
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, cfgPath, app.Options{})
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return fmt.Errorf("start: %w", err)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("fatal: %w", err)
	}
	return nil
}
