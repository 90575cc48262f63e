// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ensemble Contributors

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ensemble-dev/ensemble/internal/config"
	"github.com/ensemble-dev/ensemble/internal/provider"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe every registered provider once and print the verdicts",
		RunE:  runProbe,
	}
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	sys, err := WireSystem(cfg, dataDir())
	if err != nil {
		return err
	}
	defer sys.Close()

	sys.Monitor.ProbeAll(cmd.Context())

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tSTATUS\tFAILURES\tERROR")
	for _, kind := range provider.Kinds() {
		for _, name := range sys.Catalog.Names(kind) {
			rec, ok := sys.Monitor.Record(kind, name)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				rec.Kind, rec.Name, rec.Status, rec.ConsecutiveFailures, rec.Error)
		}
	}
	return w.Flush()
}
