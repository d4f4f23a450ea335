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
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/titanxw-wq/Customs/services/scoring"
	"github.com/titanxw-wq/Customs/services/scoring/aggregate"
	"github.com/titanxw-wq/Customs/services/scoring/catalog"
	"github.com/titanxw-wq/Customs/services/scoring/consensus"
	"github.com/titanxw-wq/Customs/services/scoring/evidence"
	"github.com/titanxw-wq/Customs/services/scoring/fusion"
	"github.com/titanxw-wq/Customs/services/scoring/rules"
	"github.com/titanxw-wq/Customs/services/scoring/store"
)

var (
	scoreCatalogPath     string
	scoreFactsPath       string
	scoreReliabilityPath string
	scoreRatesPath       string
	scoreStorePath       string
	scoreNumericStrategy string
	scoreRequiredFields  []string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a case's evidence against a rule catalog",
	Long: `Evaluates a case's facts against the rule catalog, aggregates the
results into a final score, and builds the consensus record. The full
run result is printed to stdout as JSON.

Examples:
  customs-score score --catalog rules.yaml --facts case.yaml
  customs-score score --catalog rules.yaml --facts case.yaml \
      --reliability sources.yaml --rates rates.yaml --store ./audit`,
	RunE: runScoreCommand,
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreCatalogPath, "catalog", "c", "",
		"Path to the rule catalog YAML (required)")
	scoreCmd.Flags().StringVarP(&scoreFactsPath, "facts", "f", "",
		"Path to the case facts YAML (required)")
	scoreCmd.Flags().StringVar(&scoreReliabilityPath, "reliability", "",
		"Path to a source reliability table YAML (default: built-in table)")
	scoreCmd.Flags().StringVar(&scoreRatesPath, "rates", "",
		"Path to an exchange rates YAML (keys like EUR/USD)")
	scoreCmd.Flags().StringVar(&scoreStorePath, "store", "",
		"Directory for the audit store (default: no persistence)")
	scoreCmd.Flags().StringVar(&scoreNumericStrategy, "numeric-strategy", "highest_confidence",
		"Conflict strategy for numeric fields (weighted_average, highest_confidence, source_priority)")
	scoreCmd.Flags().StringSliceVar(&scoreRequiredFields, "required", nil,
		"Fields that must be present; absences are reported for review")

	scoreCmd.MarkFlagRequired("catalog")
	scoreCmd.MarkFlagRequired("facts")
}

// caseFile is the on-disk shape of a case's facts.
type caseFile struct {
	CaseID string          `yaml:"case_id"`
	Facts  []evidence.Fact `yaml:"facts"`
}

func loadFacts(path string) (*evidence.FactSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	var file caseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse facts: %w", err)
	}
	if file.CaseID == "" {
		return nil, fmt.Errorf("facts file %s has no case_id", path)
	}
	return evidence.NewFactSet(file.CaseID, file.Facts)
}

func loadRates(path string) (rules.StaticRates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rates: %w", err)
	}
	var rates rules.StaticRates
	if err := yaml.Unmarshal(data, &rates); err != nil {
		return nil, fmt.Errorf("parse rates: %w", err)
	}
	return rates, nil
}

func runScoreCommand(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	defer logger.Close()

	cat, err := catalog.Load(scoreCatalogPath)
	if err != nil {
		return err
	}

	facts, err := loadFacts(scoreFactsPath)
	if err != nil {
		return err
	}

	var reliability evidence.ReliabilityProvider = evidence.DefaultReliabilityTable()
	if scoreReliabilityPath != "" {
		watcher, err := evidence.NewReliabilityWatcher(scoreReliabilityPath, logger.Slog())
		if err != nil {
			return err
		}
		defer watcher.Close()
		reliability = watcher
	}

	var converter *rules.Converter
	if scoreRatesPath != "" {
		rates, err := loadRates(scoreRatesPath)
		if err != nil {
			return err
		}
		converter = rules.NewConverter(rates, rules.ConverterConfig{})
	}

	aggregator, err := aggregate.New(aggregate.DefaultConfig(), reliability)
	if err != nil {
		return err
	}

	resolver, err := fusion.NewResolver(fusion.Config{
		DefaultNumeric: fusion.Strategy(scoreNumericStrategy),
	}, reliability, nil)
	if err != nil {
		return err
	}

	var auditStore *store.Store
	if scoreStorePath != "" {
		auditStore, err = store.Open(store.DefaultConfig(scoreStorePath))
		if err != nil {
			return err
		}
		defer auditStore.Close()
	}

	engine, err := scoring.New(scoring.Options{
		Catalog:    cat,
		Registry:   rules.NewRegistry(rules.Deps{Converter: converter}),
		Aggregator: aggregator,
		Consensus:  consensus.NewBuilder(resolver, scoreRequiredFields),
		Store:      auditStore,
		Logger:     logger.Slog(),
	})
	if err != nil {
		return err
	}

	run, err := engine.Score(cmd.Context(), facts)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
