// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command customs-score runs the evidential scoring pipeline from the
// command line.
//
// Usage:
//
//	customs-score score --catalog rules.yaml --facts case.yaml
//	customs-score score --catalog rules.yaml --facts case.yaml --store ./audit
//	customs-score history --store ./audit --case case-17
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/titanxw-wq/Customs/pkg/logging"
)

var (
	logLevel string
	quiet    bool
)

var rootCmd = &cobra.Command{
	Use:   "customs-score",
	Short: "Evidential scoring and multi-source consensus for customs cases",
	Long: `customs-score evaluates a case's evidence against a versioned rule
catalog, aggregates the rule verdicts into an auditable score, and
fuses conflicting observations into a consensus record.

Examples:
  customs-score score --catalog rules.yaml --facts case.yaml
  customs-score score --catalog rules.yaml --facts case.yaml --store ./audit
  customs-score history --store ./audit --case case-17`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"Suppress log output (results still print to stdout)")

	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(historyCmd)
}

// newLogger builds the process logger from the persistent flags.
func newLogger() *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(logLevel),
		Service: "customs-score",
		Quiet:   quiet,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
