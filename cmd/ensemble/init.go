// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter ensemble.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

// starterConfig is rendered by init. Keys mirror internal/config.
type starterConfig struct {
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Balancer struct {
		Algorithm   string `yaml:"algorithm"`
		FallbackAll bool   `yaml:"fallback_all"`
	} `yaml:"balancer"`
	Cost struct {
		DailyBudgetUSD float64 `yaml:"daily_budget_usd"`
	} `yaml:"cost"`
	Ledger struct {
		Backend       string `yaml:"backend"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"ledger"`
	Providers map[string]map[string]any `yaml:"providers"`
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "ensemble.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return enserr.New(enserr.CodeCLIInputInvalid,
			"config file already exists: "+path+" (use --force to overwrite)")
	}

	var cfg starterConfig
	cfg.Server.Listen = "127.0.0.1:18630"
	cfg.Balancer.Algorithm = "round_robin"
	cfg.Balancer.FallbackAll = true
	cfg.Cost.DailyBudgetUSD = 50.0
	cfg.Ledger.Backend = "sqlite"
	cfg.Ledger.RetentionDays = 90
	cfg.Providers = map[string]map[string]any{
		"local-objects": {
			"kind":             "storage",
			"impl":             "localfs",
			"priority":         1,
			"cost_per_request": 0.0,
			"root":             "./objects",
			"display_name":     "Local object store",
		},
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return enserr.Wrap(err, enserr.CodeCLISetupFailure, "encoding starter config")
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return enserr.Wrap(err, enserr.CodeCLISetupFailure, "writing config file")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
