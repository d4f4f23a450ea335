// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fusion resolves conflicting multi-source observations of a
// field into a single consensus value.
//
// Resolution never erases evidence: every losing candidate is kept in
// the consensus record with the reason it lost, so a human reviewer
// can always reconstruct why a value won.
package fusion

import (
	"fmt"
	"sort"
	"time"

	"github.com/titanxw-wq/Customs/pkg/similarity"
	"github.com/titanxw-wq/Customs/services/scoring/evidence"
)

// Strategy is a conflict resolution policy for one field.
type Strategy string

const (
	// StrategyWeightedAverage blends numeric candidates by confidence.
	// The result is bounded by the candidate range, so an average can
	// never invent a value more extreme than any source reported.
	StrategyWeightedAverage Strategy = "weighted_average"

	// StrategyHighestConfidence picks the most confident candidate,
	// breaking ties by recency and then source reliability.
	StrategyHighestConfidence Strategy = "highest_confidence"

	// StrategySourcePriority picks by source category rank: an
	// official document beats a witness statement regardless of
	// confidence.
	StrategySourcePriority Strategy = "source_priority"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyWeightedAverage, StrategyHighestConfidence, StrategySourcePriority:
		return true
	}
	return false
}

// Candidate is one source's observation of a field, annotated with the
// reliability the resolver used.
type Candidate struct {
	FactID      string              `json:"fact_id"`
	Value       evidence.Value      `json:"value"`
	SourceID    string              `json:"source_id"`
	SourceType  evidence.SourceType `json:"source_type"`
	Confidence  float64             `json:"confidence"`
	Reliability float64             `json:"reliability"`
	Timestamp   time.Time           `json:"timestamp"`
}

// LosingCandidate is a candidate that did not become the consensus
// value, with the reason it lost.
type LosingCandidate struct {
	Candidate
	Reason string `json:"reason"`
}

// Field is the consensus outcome for one field.
type Field struct {
	// Name is the evidentiary field.
	Name string `json:"name"`

	// Value is the consensus value. When Resolved is false it is the
	// provisional highest-confidence candidate, pending review.
	Value evidence.Value `json:"value"`

	// Confidence is the consensus confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Strategy records how the value was chosen; empty when the
	// sources agreed and no resolution was needed.
	Strategy Strategy `json:"strategy,omitempty"`

	// Conflict reports that the sources disagreed.
	Conflict bool `json:"conflict"`

	// Resolved reports that a consensus value was chosen. A field can
	// be in conflict and resolved; unresolved conflicts are flagged
	// for manual review.
	Resolved bool `json:"resolved"`

	// WinnerFactID names the fact the value came from, when a single
	// fact won. Empty for blended values.
	WinnerFactID string `json:"winner_fact_id,omitempty"`

	// Losing records every candidate that did not win.
	Losing []LosingCandidate `json:"losing,omitempty"`
}

// Config tunes the resolver.
type Config struct {
	// DefaultNumeric is the strategy for numeric fields without a
	// per-field override. Required: blending and picking give
	// materially different audit trails, so the choice must be
	// deliberate, never an implicit default.
	DefaultNumeric Strategy `yaml:"default_numeric" json:"default_numeric"`

	// DefaultText is the strategy for non-numeric fields without an
	// override. Default: highest_confidence.
	DefaultText Strategy `yaml:"default_text" json:"default_text"`

	// Fields maps field names to per-field strategy overrides.
	Fields map[string]Strategy `yaml:"fields" json:"fields"`

	// TextSimilarityThreshold is the fuzzy cutoff above which two text
	// observations count as agreeing. Default 0.9.
	TextSimilarityThreshold float64 `yaml:"text_similarity_threshold" json:"text_similarity_threshold"`

	// SourcePriority ranks source categories for the source_priority
	// strategy, highest trust first. Defaults to the standard
	// hierarchy: official documents down to circumstantial.
	SourcePriority []evidence.SourceType `yaml:"source_priority" json:"source_priority"`
}

// DefaultSourcePriority is the standard trust hierarchy.
func DefaultSourcePriority() []evidence.SourceType {
	return []evidence.SourceType{
		evidence.SourceOfficialDocument,
		evidence.SourceCommercialRecord,
		evidence.SourceSensor,
		evidence.SourceManualEntry,
		evidence.SourceDigitalTrace,
		evidence.SourceWitnessStatement,
		evidence.SourceCircumstantial,
	}
}

// Arbitrator is an optional escape hatch consulted when the configured
// strategy cannot resolve a conflict (for example weighted_average
// over text values). Returning false leaves the conflict unresolved.
type Arbitrator interface {
	Arbitrate(field string, candidates []Candidate) (winner Candidate, ok bool)
}

// Resolver fuses per-field candidates into consensus values.
//
// Thread Safety: safe for concurrent use; all state is read-only.
type Resolver struct {
	cfg         Config
	reliability evidence.ReliabilityProvider
	arbitrator  Arbitrator
}

// NewResolver validates the config and builds a resolver. A nil
// reliability provider uses the built-in table; the arbitrator may be
// nil.
func NewResolver(cfg Config, reliability evidence.ReliabilityProvider, arbitrator Arbitrator) (*Resolver, error) {
	if !cfg.DefaultNumeric.Valid() {
		return nil, fmt.Errorf("fusion: default_numeric strategy is required, got %q", cfg.DefaultNumeric)
	}
	if cfg.DefaultText == "" {
		cfg.DefaultText = StrategyHighestConfidence
	}
	if !cfg.DefaultText.Valid() {
		return nil, fmt.Errorf("fusion: unknown default_text strategy %q", cfg.DefaultText)
	}
	for field, s := range cfg.Fields {
		if !s.Valid() {
			return nil, fmt.Errorf("fusion: field %q has unknown strategy %q", field, s)
		}
	}
	if cfg.TextSimilarityThreshold == 0 {
		cfg.TextSimilarityThreshold = 0.9
	}
	if cfg.TextSimilarityThreshold < 0 || cfg.TextSimilarityThreshold > 1 {
		return nil, fmt.Errorf("fusion: text_similarity_threshold %f outside [0,1]", cfg.TextSimilarityThreshold)
	}
	if len(cfg.SourcePriority) == 0 {
		cfg.SourcePriority = DefaultSourcePriority()
	}
	if reliability == nil {
		reliability = evidence.DefaultReliabilityTable()
	}
	return &Resolver{cfg: cfg, reliability: reliability, arbitrator: arbitrator}, nil
}

// Resolve fuses all observations of one field into a consensus value.
// Returns false when the field has no facts at all.
func (r *Resolver) Resolve(facts *evidence.FactSet, field string) (Field, bool) {
	observed := facts.Field(field)
	if len(observed) == 0 {
		return Field{}, false
	}

	table := r.reliability.Snapshot()
	candidates := make([]Candidate, len(observed))
	for i, f := range observed {
		candidates[i] = Candidate{
			FactID:      f.ID,
			Value:       f.Value,
			SourceID:    f.SourceID,
			SourceType:  f.SourceType,
			Confidence:  f.Confidence,
			Reliability: table.Reliability(f.SourceType, f.SourceID),
			Timestamp:   f.Timestamp,
		}
	}

	if agreed, ok := r.agreement(candidates); ok {
		return agreed.toField(field, candidates, false, ""), true
	}

	strategy := r.strategyFor(field, candidates)
	winner, ok := r.apply(strategy, candidates)
	if !ok && r.arbitrator != nil {
		if arb, arbOK := r.arbitrator.Arbitrate(field, candidates); arbOK {
			winner, ok = arb, true
		}
	}
	if !ok {
		// Even an unresolved conflict keeps a provisional value: the
		// highest-confidence candidate stands in until review.
		fallback := highestConfidence(candidates)
		return Field{
			Name:         field,
			Value:        fallback.Value,
			Confidence:   fallback.Confidence,
			Conflict:     true,
			Resolved:     false,
			Strategy:     strategy,
			WinnerFactID: fallback.FactID,
			Losing:       losers(candidates, "", "unresolved conflict, flagged for manual review"),
		}, true
	}
	return winner.toField(field, candidates, true, strategy), true
}

// agreement reports whether all candidates observe the same value and,
// if so, returns the most confident of them.
func (r *Resolver) agreement(candidates []Candidate) (Candidate, bool) {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if !r.valuesAgree(candidates[0].Value, c.Value) {
			return Candidate{}, false
		}
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best, true
}

func (r *Resolver) valuesAgree(a, b evidence.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == evidence.KindString {
		matched, _ := similarity.TextMatch(a.Text, b.Text, r.cfg.TextSimilarityThreshold)
		return matched
	}
	return a.Equal(b)
}

// strategyFor resolves the strategy for a field: per-field override,
// then the kind default.
func (r *Resolver) strategyFor(field string, candidates []Candidate) Strategy {
	if s, ok := r.cfg.Fields[field]; ok {
		return s
	}
	if candidates[0].Value.Kind == evidence.KindNumber {
		return r.cfg.DefaultNumeric
	}
	return r.cfg.DefaultText
}

// apply runs one strategy over conflicting candidates. Returns false
// when the strategy cannot produce a value for these candidates.
func (r *Resolver) apply(strategy Strategy, candidates []Candidate) (Candidate, bool) {
	switch strategy {
	case StrategyWeightedAverage:
		return weightedAverage(candidates)
	case StrategyHighestConfidence:
		return highestConfidence(candidates), true
	case StrategySourcePriority:
		return r.sourcePriority(candidates)
	default:
		return Candidate{}, false
	}
}

// weightedAverage blends numeric candidates by confidence, clamped to
// the candidate range. Non-numeric candidates cannot be averaged.
func weightedAverage(candidates []Candidate) (Candidate, bool) {
	var sum, weight float64
	lo := candidates[0]
	hi := candidates[0]
	var confSum float64
	for _, c := range candidates {
		if c.Value.Kind != evidence.KindNumber {
			return Candidate{}, false
		}
		sum += c.Confidence * c.Value.Number
		weight += c.Confidence
		confSum += c.Confidence
		if c.Value.Number < lo.Value.Number {
			lo = c
		}
		if c.Value.Number > hi.Value.Number {
			hi = c
		}
	}
	if weight == 0 {
		return Candidate{}, false
	}
	blended := similarity.Clamp(sum/weight, lo.Value.Number, hi.Value.Number)
	return Candidate{
		Value:      evidence.Number(blended),
		Confidence: confSum / float64(len(candidates)),
	}, true
}

// highestConfidence picks the most confident candidate. Equal
// confidence resolves to the more recent observation, then to the more
// reliable source.
func highestConfidence(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.Confidence > best.Confidence:
			best = c
		case c.Confidence == best.Confidence && c.Timestamp.After(best.Timestamp):
			best = c
		case c.Confidence == best.Confidence && c.Timestamp.Equal(best.Timestamp) && c.Reliability > best.Reliability:
			best = c
		}
	}
	return best
}

// sourcePriority picks the candidate from the highest-ranked source
// category, breaking ties within a category by confidence. Candidates
// whose category is unranked cannot win.
func (r *Resolver) sourcePriority(candidates []Candidate) (Candidate, bool) {
	rank := make(map[evidence.SourceType]int, len(r.cfg.SourcePriority))
	for i, st := range r.cfg.SourcePriority {
		rank[st] = i
	}

	bestRank := len(r.cfg.SourcePriority)
	var best Candidate
	found := false
	for _, c := range candidates {
		cr, ranked := rank[c.SourceType]
		if !ranked {
			continue
		}
		if !found || cr < bestRank || (cr == bestRank && c.Confidence > best.Confidence) {
			best = c
			bestRank = cr
			found = true
		}
	}
	return best, found
}

// toField builds the consensus field for a winning candidate, filing
// everyone else as losing candidates.
func (c Candidate) toField(field string, candidates []Candidate, conflict bool, strategy Strategy) Field {
	reason := "sources agreed; lower confidence than winner"
	if conflict {
		reason = fmt.Sprintf("lost %s resolution", strategy)
	}
	return Field{
		Name:         field,
		Value:        c.Value,
		Confidence:   c.Confidence,
		Strategy:     strategy,
		Conflict:     conflict,
		Resolved:     true,
		WinnerFactID: c.FactID,
		Losing:       losers(candidates, c.FactID, reason),
	}
}

// losers files every candidate except the winner, sorted by fact id
// for stable audit records.
func losers(candidates []Candidate, winnerFactID, reason string) []LosingCandidate {
	var out []LosingCandidate
	for _, c := range candidates {
		if winnerFactID != "" && c.FactID == winnerFactID {
			continue
		}
		out = append(out, LosingCandidate{Candidate: c, Reason: reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FactID < out[j].FactID })
	return out
}
