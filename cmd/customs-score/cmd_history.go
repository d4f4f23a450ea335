// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/titanxw-wq/Customs/services/scoring/store"
)

var (
	historyStorePath string
	historyCaseID    string
	historyConsensus bool
	historyLatest    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the audit history of a case",
	Long: `Prints every score (or consensus record) appended for a case,
oldest first, as JSON.

Examples:
  customs-score history --store ./audit --case case-17
  customs-score history --store ./audit --case case-17 --latest
  customs-score history --store ./audit --case case-17 --consensus`,
	RunE: runHistoryCommand,
}

func init() {
	historyCmd.Flags().StringVar(&historyStorePath, "store", "",
		"Directory of the audit store (required)")
	historyCmd.Flags().StringVar(&historyCaseID, "case", "",
		"Case id to look up (required)")
	historyCmd.Flags().BoolVar(&historyConsensus, "consensus", false,
		"Show consensus records instead of scores")
	historyCmd.Flags().BoolVar(&historyLatest, "latest", false,
		"Show only the most recent entry")

	historyCmd.MarkFlagRequired("store")
	historyCmd.MarkFlagRequired("case")
}

func runHistoryCommand(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	defer logger.Close()

	cfg := store.DefaultConfig(historyStorePath)
	cfg.Logger = logger.Slog()
	s, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	var result any
	switch {
	case historyConsensus && historyLatest:
		result, err = s.LatestConsensus(ctx, historyCaseID)
	case historyConsensus:
		result, err = s.ConsensusHistory(ctx, historyCaseID)
	case historyLatest:
		result, err = s.LatestScore(ctx, historyCaseID)
	default:
		result, err = s.ScoreHistory(ctx, historyCaseID)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
