// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ensemble-dev/ensemble/internal/config"
	"github.com/ensemble-dev/ensemble/internal/ledger"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestration service",
		Long:  "Load configuration, register providers, and serve the operational API with background health probing and ledger retention.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	sys, err := WireSystem(cfg, dataDir())
	if err != nil {
		return err
	}
	defer func() {
		if err := sys.Close(); err != nil {
			slog.Warn("shutdown cleanup error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background probe loop keeps health verdicts warm so acquisitions
	// rarely need a synchronous self-heal pass.
	go probeLoop(ctx, sys, cfg.Health.ProbeInterval)

	// Retention loop purges usage records past the configured window.
	go retentionLoop(ctx, sys, cfg.Ledger.RetentionDays)

	fmt.Fprintf(cmd.OutOrStdout(), "ensemble listening on %s\n", cfg.Server.Listen)
	return sys.Server.Start(ctx)
}

func probeLoop(ctx context.Context, sys *System, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	sys.Monitor.ProbeAll(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sys.Monitor.ProbeAll(ctx)
		}
	}
}

func retentionLoop(ctx context.Context, sys *System, retentionDays int) {
	if retentionDays <= 0 {
		retentionDays = ledger.DefaultRetentionDays
	}

	t := time.NewTicker(6 * time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			if n, err := sys.Usage.Purge(ctx, cutoff); err == nil && n > 0 {
				slog.Info("purged expired usage records", "count", n)
			}
		}
	}
}

// dataDir resolves the persistent data directory from flags/env, falling
// back to ~/.local/share/ensemble.
func dataDir() string {
	if dir := viper.GetString("data_dir"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "ensemble")
}
