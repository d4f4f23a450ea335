// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scoring runs the full evidential pipeline for one case: rule
// evaluation in dependency phases, score aggregation, consensus
// fusion, and the append-only audit trail.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/titanxw-wq/Customs/services/scoring/aggregate"
	"github.com/titanxw-wq/Customs/services/scoring/catalog"
	"github.com/titanxw-wq/Customs/services/scoring/consensus"
	"github.com/titanxw-wq/Customs/services/scoring/evidence"
	"github.com/titanxw-wq/Customs/services/scoring/rules"
	"github.com/titanxw-wq/Customs/services/scoring/store"
)

// defaultRuleTimeout bounds a single rule evaluation. A rule that
// blocks on an external lookup degrades to errored at the deadline
// instead of stalling its phase.
const defaultRuleTimeout = 30 * time.Second

// AttentionKind classifies an attention feed item.
type AttentionKind string

const (
	AttentionRuleSkipped        AttentionKind = "rule_skipped"
	AttentionRuleErrored        AttentionKind = "rule_errored"
	AttentionVeto               AttentionKind = "veto"
	AttentionUnresolvedConflict AttentionKind = "unresolved_conflict"
	AttentionMissingField       AttentionKind = "missing_field"
)

// AttentionItem is one thing a reviewer should look at: a rule that
// could not contribute, a veto, or a conflict fusion could not settle.
type AttentionItem struct {
	Kind AttentionKind `json:"kind"`

	// RuleID is set for rule-level items.
	RuleID string `json:"rule_id,omitempty"`

	// Field is set for consensus-level items.
	Field string `json:"field,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// RunResult is everything one scoring run produced.
type RunResult struct {
	RunID     string            `json:"run_id"`
	CaseID    string            `json:"case_id"`
	Score     *aggregate.Score  `json:"score"`
	Consensus *consensus.Record `json:"consensus"`
	Results   []rules.Result    `json:"results"`
	Attention []AttentionItem   `json:"attention,omitempty"`
	Elapsed   time.Duration     `json:"elapsed"`
}

// Options configures an Engine.
type Options struct {
	// Catalog is the validated rule catalog. Required.
	Catalog *catalog.Catalog

	// Registry resolves rule kinds. Required.
	Registry *rules.Registry

	// Aggregator folds rule results into the case score. Required.
	Aggregator *aggregate.Aggregator

	// Consensus builds the consensus record. Required.
	Consensus *consensus.Builder

	// Store receives the audit trail. Optional; nil disables
	// persistence.
	Store *store.Store

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// RuleTimeout bounds one rule evaluation. Default 30s.
	RuleTimeout time.Duration
}

// Engine runs scoring for cases. Construct once, reuse across cases.
//
// Thread Safety: safe for concurrent use; runs share no mutable state.
type Engine struct {
	catalog     *catalog.Catalog
	evaluator   *rules.Evaluator
	aggregator  *aggregate.Aggregator
	consensus   *consensus.Builder
	store       *store.Store
	logger      *slog.Logger
	ruleTimeout time.Duration
}

// New validates the options and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Catalog == nil {
		return nil, errors.New("scoring: catalog is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("scoring: rule registry is required")
	}
	if opts.Aggregator == nil {
		return nil, errors.New("scoring: aggregator is required")
	}
	if opts.Consensus == nil {
		return nil, errors.New("scoring: consensus builder is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RuleTimeout
	if timeout == 0 {
		timeout = defaultRuleTimeout
	}

	if err := initMetrics(); err != nil {
		logger.Warn("scoring metrics unavailable, continuing without", "error", err.Error())
	}

	return &Engine{
		catalog:     opts.Catalog,
		evaluator:   rules.NewEvaluator(opts.Registry, logger),
		aggregator:  opts.Aggregator,
		consensus:   opts.Consensus,
		store:       opts.Store,
		logger:      logger,
		ruleTimeout: timeout,
	}, nil
}

// Score runs the full pipeline for one case.
//
// Rules execute phase by phase; rules inside a phase run in parallel
// and each is bounded by the rule timeout. Aggregation and consensus
// run concurrently once all phases finish. Cancelling ctx aborts this
// case only.
func (e *Engine) Score(ctx context.Context, facts *evidence.FactSet) (*RunResult, error) {
	runID := uuid.NewString()[:12]
	started := time.Now()

	ctx, span := tracer.Start(ctx, "scoring.Score")
	defer span.End()
	span.SetAttributes(
		attribute.String("case_id", facts.CaseID()),
		attribute.String("run_id", runID),
		attribute.String("catalog_version", e.catalog.Version()),
	)

	e.logger.Info("scoring run started",
		"run_id", runID,
		"case_id", facts.CaseID(),
		"catalog_version", e.catalog.Version(),
		"facts", facts.Len(),
	)

	results, err := e.evaluatePhases(ctx, facts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.recordRun(ctx, "aborted")
		return nil, err
	}

	ordered := e.orderResults(results)

	var score *aggregate.Score
	var record *consensus.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var aggErr error
		score, aggErr = e.aggregator.Aggregate(e.catalog, facts, ordered)
		return aggErr
	})
	g.Go(func() error {
		var consErr error
		record, consErr = e.consensus.Build(gctx, runID, facts)
		return consErr
	})
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.recordRun(ctx, "aborted")
		return nil, fmt.Errorf("scoring run %s: %w", runID, err)
	}

	if e.store != nil {
		if err := e.store.AppendScore(ctx, runID, score); err != nil {
			return nil, fmt.Errorf("scoring run %s: persist score: %w", runID, err)
		}
		if err := e.store.AppendConsensus(ctx, record); err != nil {
			return nil, fmt.Errorf("scoring run %s: persist consensus: %w", runID, err)
		}
	}

	run := &RunResult{
		RunID:     runID,
		CaseID:    facts.CaseID(),
		Score:     score,
		Consensus: record,
		Results:   ordered,
		Attention: buildAttention(score, record, ordered),
		Elapsed:   time.Since(started),
	}

	e.observe(ctx, run)
	e.logger.Info("scoring run finished",
		"run_id", runID,
		"case_id", facts.CaseID(),
		"final", score.Final,
		"risk", string(score.Risk),
		"vetoed", score.Vetoed,
		"attention", len(run.Attention),
		"elapsed", run.Elapsed.String(),
	)
	return run, nil
}

// evaluatePhases runs every enabled rule in dependency phase order.
// Within a phase, rules run in parallel; each gets its own timeout.
// Disabled rules record a skipped result without executing.
func (e *Engine) evaluatePhases(ctx context.Context, facts *evidence.FactSet) (map[string]rules.Result, error) {
	results := make(map[string]rules.Result, e.catalog.Len())
	var mu sync.Mutex

	for _, phase := range e.catalog.Phases() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scoring cancelled: %w", err)
		}

		// Snapshot the prior results for this phase; rules read their
		// dependencies from it without holding the lock.
		prior := make(map[string]rules.Result, len(results))
		for id, r := range results {
			prior[id] = r
		}

		var wg sync.WaitGroup
		for _, id := range phase {
			rule, ok := e.catalog.Rule(id)
			if !ok {
				return nil, fmt.Errorf("phase references unknown rule %q", id)
			}
			if !rule.IsEnabled() {
				mu.Lock()
				results[id] = rules.Result{
					RuleID: id,
					Status: rules.StatusSkipped,
					Reason: "rule disabled in catalog",
				}
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				ruleCtx, cancel := context.WithTimeout(ctx, e.ruleTimeout)
				defer cancel()

				res := e.evaluator.Evaluate(ruleCtx, rules.Input{
					Rule:  rule,
					Facts: facts,
					Prior: prior,
				})
				mu.Lock()
				results[res.RuleID] = res
				mu.Unlock()
			}()
		}
		wg.Wait()
	}

	return results, nil
}

// orderResults returns results in catalog order so output and audit
// records are deterministic regardless of phase parallelism.
func (e *Engine) orderResults(results map[string]rules.Result) []rules.Result {
	ordered := make([]rules.Result, 0, len(results))
	for _, rule := range e.catalog.Rules() {
		if res, ok := results[rule.ID]; ok {
			ordered = append(ordered, res)
		}
	}
	return ordered
}

// buildAttention collects everything a reviewer should see: rules that
// could not contribute, vetoes, unresolved conflicts, missing fields.
func buildAttention(score *aggregate.Score, record *consensus.Record, results []rules.Result) []AttentionItem {
	var items []AttentionItem
	for _, res := range results {
		switch res.Status {
		case rules.StatusSkipped:
			items = append(items, AttentionItem{Kind: AttentionRuleSkipped, RuleID: res.RuleID, Reason: res.Reason})
		case rules.StatusErrored:
			items = append(items, AttentionItem{Kind: AttentionRuleErrored, RuleID: res.RuleID, Reason: res.Reason})
		}
	}
	for _, id := range score.VetoedBy {
		items = append(items, AttentionItem{Kind: AttentionVeto, RuleID: id, Reason: "veto rule forced score to zero"})
	}
	for _, field := range record.UnresolvedConflicts {
		items = append(items, AttentionItem{Kind: AttentionUnresolvedConflict, Field: field, Reason: "conflict requires manual review"})
	}
	for _, field := range record.MissingFields {
		items = append(items, AttentionItem{Kind: AttentionMissingField, Field: field, Reason: "required field has no observations"})
	}
	return items
}

// observe records run metrics when metrics are available.
func (e *Engine) observe(ctx context.Context, run *RunResult) {
	if runsTotal == nil {
		return
	}
	runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
	runDuration.Record(ctx, run.Elapsed.Seconds())
	rulesEvaluated.Add(ctx, int64(run.Score.Evaluated))
	rulesSkipped.Add(ctx, int64(run.Score.Skipped))
	rulesErrored.Add(ctx, int64(run.Score.Errored))
	if run.Score.Vetoed {
		vetoesTotal.Add(ctx, 1)
	}
	unresolvedConflicts.Add(ctx, int64(len(run.Consensus.UnresolvedConflicts)))
}

// recordRun counts an aborted run when metrics are available.
func (e *Engine) recordRun(ctx context.Context, outcome string) {
	if runsTotal == nil {
		return
	}
	runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
