// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scoring

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for scoring runs.
var (
	tracer = otel.Tracer("customs.scoring")
	meter  = otel.Meter("customs.scoring")
)

// Metrics for scoring runs.
var (
	runsTotal   metric.Int64Counter
	runDuration metric.Float64Histogram

	rulesEvaluated metric.Int64Counter
	rulesSkipped   metric.Int64Counter
	rulesErrored   metric.Int64Counter

	vetoesTotal         metric.Int64Counter
	unresolvedConflicts metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times; a
// failure degrades the engine to running without metrics.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runsTotal, err = meter.Int64Counter(
			"scoring_runs_total",
			metric.WithDescription("Total scoring runs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"scoring_run_duration_seconds",
			metric.WithDescription("Wall-clock duration of scoring runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rulesEvaluated, err = meter.Int64Counter(
			"scoring_rules_evaluated_total",
			metric.WithDescription("Rules that evaluated to a verdict"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rulesSkipped, err = meter.Int64Counter(
			"scoring_rules_skipped_total",
			metric.WithDescription("Rules skipped for insufficient evidence"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rulesErrored, err = meter.Int64Counter(
			"scoring_rules_errored_total",
			metric.WithDescription("Rules whose evaluation failed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		vetoesTotal, err = meter.Int64Counter(
			"scoring_vetoes_total",
			metric.WithDescription("Runs where a veto rule fired"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		unresolvedConflicts, err = meter.Int64Counter(
			"scoring_unresolved_conflicts_total",
			metric.WithDescription("Consensus fields left unresolved for review"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}
