// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/titanxw-wq/Customs/services/scoring/catalog"
	"github.com/titanxw-wq/Customs/services/scoring/evidence"
)

// ErrInsufficientEvidence marks an evaluation that found too little
// usable evidence after type filtering. The evaluator maps it to a
// skipped result, the same normal outcome as failing the
// min_evidence_count gate.
var ErrInsufficientEvidence = errors.New("insufficient evidence")

// Input bundles everything one rule evaluation may read.
type Input struct {
	// Rule is the definition being evaluated.
	Rule *catalog.Rule

	// Facts is the case's full fact set.
	Facts *evidence.FactSet

	// Prior holds the results of rules from earlier phases, keyed by
	// rule id. The scheduler guarantees every dependency has reached
	// a terminal status before this rule runs. Read-only.
	Prior map[string]Result
}

// EvaluateFunc is one rule kind's pure evaluation behavior: the same
// rule and fact set always produce the same result, and no shared
// state is mutated. A returned error degrades the rule to errored.
type EvaluateFunc func(ctx context.Context, in Input) (Result, error)

// Registry maps rule kinds to their evaluation functions. Immutable
// after construction, so concurrent phase execution reads it without
// locks.
type Registry struct {
	funcs map[catalog.Kind]EvaluateFunc
}

// Deps carries the external collaborators built-in rule kinds need.
type Deps struct {
	// Converter performs currency conversion for amount rules. When
	// nil, amounts are compared without conversion and rules that
	// need a conversion degrade to errored.
	Converter *Converter
}

// NewRegistry builds the registry of built-in rule kinds.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		funcs: map[catalog.Kind]EvaluateFunc{
			catalog.KindTimeWindow:             evalTimeWindow,
			catalog.KindIdentityMatch:          evalIdentityMatch,
			catalog.KindAmountValidator:        amountEvaluator(deps.Converter),
			catalog.KindCrossSourceConsistency: evalCrossSourceConsistency,
			catalog.KindAnomaly:                evalAnomaly,
		},
	}
}

// Lookup resolves the evaluation function for a kind.
func (r *Registry) Lookup(kind catalog.Kind) (EvaluateFunc, bool) {
	fn, ok := r.funcs[kind]
	return fn, ok
}

// Evaluator runs single rules with the containment contract: it always
// returns a terminal Result and never lets a failure escape.
//
// Thread Safety: safe for concurrent use; evaluations share no state.
type Evaluator struct {
	registry *Registry
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator over the given registry.
func NewEvaluator(registry *Registry, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{registry: registry, logger: logger}
}

// Evaluate runs one rule against one case's facts.
//
// Outcomes:
//   - facts for the target field below min_evidence_count: skipped
//     (normal, zero weight, never an error)
//   - evaluation failure, panic, or context timeout: errored (zero
//     weight, logged with rule and case ids, never propagated)
//   - otherwise: evaluated, with the kind's score
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (result Result) {
	rule := in.Rule

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("rule evaluation panicked",
				"rule_id", rule.ID,
				"case_id", in.Facts.CaseID(),
				"panic", fmt.Sprint(rec),
			)
			result = errored(rule.ID, fmt.Sprintf("evaluation panicked: %v", rec))
		}
	}()

	if have := len(in.Facts.Field(rule.Params.Field)); have < rule.MinEvidenceCount {
		return skipped(rule.ID, fmt.Sprintf(
			"insufficient evidence for field %q: have %d, need %d",
			rule.Params.Field, have, rule.MinEvidenceCount,
		))
	}

	fn, ok := e.registry.Lookup(rule.Kind)
	if !ok {
		// Unreachable with a validated catalog, but contained anyway.
		return errored(rule.ID, fmt.Sprintf("no evaluation function registered for kind %q", rule.Kind))
	}

	res, err := fn(ctx, in)
	if err != nil {
		if errors.Is(err, ErrInsufficientEvidence) {
			return skipped(rule.ID, err.Error())
		}
		e.logger.Warn("rule evaluation failed",
			"rule_id", rule.ID,
			"case_id", in.Facts.CaseID(),
			"error", err.Error(),
		)
		return errored(rule.ID, err.Error())
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errored(rule.ID, fmt.Sprintf("evaluation aborted: %v", ctxErr))
	}

	res.RuleID = rule.ID
	res.Status = StatusEvaluated
	return res
}

// factIDs extracts the ids of a fact slice for evidence references.
func factIDs(facts []evidence.Fact) []string {
	ids := make([]string, len(facts))
	for i, f := range facts {
		ids[i] = f.ID
	}
	return ids
}
