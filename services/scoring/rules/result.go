// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rules executes individual scoring rules against a case's
// facts. Each rule evaluation is an isolated failure domain: missing
// evidence skips the rule, an evaluation failure degrades it to an
// errored result, and neither outcome propagates to sibling rules or
// aborts the case.
package rules

// Status is the terminal state of one rule evaluation.
type Status string

const (
	// StatusEvaluated means the rule ran to completion and its score
	// is meaningful.
	StatusEvaluated Status = "evaluated"

	// StatusSkipped means required facts were absent (count below
	// min_evidence_count). This is a normal outcome, not an error;
	// the result contributes zero weight.
	StatusSkipped Status = "skipped"

	// StatusErrored means the evaluation itself failed (computation
	// error, timeout, panic). The result contributes zero weight and
	// the failure is recorded, never propagated.
	StatusErrored Status = "errored"
)

// Result is the outcome of evaluating one rule against one case's
// facts. Produced exactly once per rule per case per run; immutable.
type Result struct {
	// RuleID identifies the evaluated rule.
	RuleID string `json:"rule_id"`

	// Matched reports whether the rule's condition held.
	Matched bool `json:"matched"`

	// Score is the rule's verdict in [0,1]; 1 means fully consistent
	// evidence, 0 means maximal suspicion. Zero for skipped/errored.
	Score float64 `json:"score"`

	// EvidenceRefs lists the ids of the facts the verdict rests on.
	EvidenceRefs []string `json:"evidence_refs,omitempty"`

	// Status is the terminal state of the evaluation.
	Status Status `json:"status"`

	// Reason explains a skip or error, and summarizes a match. Every
	// non-evaluated result carries an explicit, attributed reason so
	// the audit trail always explains the outcome.
	Reason string `json:"reason,omitempty"`

	// PointScores holds per-fact anomaly scores for rules that
	// produce them, keyed by fact id.
	PointScores map[string]float64 `json:"point_scores,omitempty"`
}

// Terminal reports whether the result has reached a terminal status.
func (r Result) Terminal() bool {
	switch r.Status {
	case StatusEvaluated, StatusSkipped, StatusErrored:
		return true
	default:
		return false
	}
}

// skipped builds a skipped result with zero score and weight.
func skipped(ruleID, reason string) Result {
	return Result{RuleID: ruleID, Status: StatusSkipped, Reason: reason}
}

// errored builds an errored result with zero score and weight.
func errored(ruleID, reason string) Result {
	return Result{RuleID: ruleID, Status: StatusErrored, Reason: reason}
}
