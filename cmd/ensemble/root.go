// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ensemble-dev/ensemble/internal/config"
	enserr "github.com/ensemble-dev/ensemble/pkg/errors"
)

// NewRootCmd creates the root ensemble command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ensemble",
		Short:         "Ensemble — adaptive multi-provider orchestration",
		Long:          "Ensemble selects, health-monitors, fault-isolates, load-balances and cost-optimizes across interchangeable backend providers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd)
		},
	}

	// Global flags — these map to viper keys via initViper.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newProbeCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return enserr.Errorf(enserr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// Auto-discover ensemble.yaml from standard locations.
		v.SetConfigName("ensemble")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ensemble")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return enserr.Errorf(enserr.CodeConfigLoadReadFailure, "reading config file: %w", err)
			}
		}
	}

	if err := v.BindPFlag("verbose", cmd.Flags().Lookup("verbose")); err != nil {
		return enserr.Wrap(err, enserr.CodeCLISetupFailure, "binding verbose flag")
	}
	if err := v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir")); err != nil {
		return enserr.Wrap(err, enserr.CodeCLISetupFailure, "binding data-dir flag")
	}

	return nil
}
