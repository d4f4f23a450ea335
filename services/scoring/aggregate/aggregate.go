// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package aggregate combines individual rule results into a single
// case score with a full per-rule contribution breakdown.
//
// Every weighting decision (tier, evidence quality, source
// reliability, time decay, veto) is recorded in the breakdown so the
// final number is auditable, never a black box.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/titanxw-wq/Customs/services/scoring/catalog"
	"github.com/titanxw-wq/Customs/services/scoring/evidence"
	"github.com/titanxw-wq/Customs/services/scoring/rules"
)

// RiskLevel bands the final score for triage.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// CutPoints maps score thresholds to risk levels: a score at or above
// Low is low risk, at or above Medium is medium, at or above High is
// high, anything below is critical.
type CutPoints struct {
	Low    float64 `yaml:"low" json:"low"`
	Medium float64 `yaml:"medium" json:"medium"`
	High   float64 `yaml:"high" json:"high"`
}

// DefaultCutPoints returns the standard triage bands.
func DefaultCutPoints() CutPoints {
	return CutPoints{Low: 0.8, Medium: 0.5, High: 0.3}
}

// Level bands a score.
func (c CutPoints) Level(score float64) RiskLevel {
	switch {
	case score >= c.Low:
		return RiskLow
	case score >= c.Medium:
		return RiskMedium
	case score >= c.High:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Config tunes the aggregator's weighting model.
type Config struct {
	// TierWeights maps rule tiers to their weight factor. Missing
	// tiers fall back to the defaults.
	TierWeights map[catalog.Tier]float64 `yaml:"tier_weights" json:"tier_weights"`

	// QualityMultipliers maps source categories to evidence quality
	// factors. Missing categories fall back to the defaults.
	QualityMultipliers map[evidence.SourceType]float64 `yaml:"quality_multipliers" json:"quality_multipliers"`

	// Decay controls how evidence weight erodes with age.
	Decay evidence.DecayConfig `yaml:"decay" json:"decay"`

	// CutPoints bands the final score into risk levels.
	CutPoints CutPoints `yaml:"cut_points" json:"cut_points"`
}

// DefaultConfig returns the standard weighting model.
func DefaultConfig() Config {
	return Config{
		TierWeights:        defaultTierWeights(),
		QualityMultipliers: defaultQualityMultipliers(),
		Decay:              evidence.DefaultDecayConfig(),
		CutPoints:          DefaultCutPoints(),
	}
}

func defaultTierWeights() map[catalog.Tier]float64 {
	return map[catalog.Tier]float64{
		catalog.TierCritical: 1.0,
		catalog.TierHigh:     0.75,
		catalog.TierMedium:   0.5,
		catalog.TierLow:      0.25,
	}
}

func defaultQualityMultipliers() map[evidence.SourceType]float64 {
	return map[evidence.SourceType]float64{
		evidence.SourceOfficialDocument: 1.0,
		evidence.SourceCommercialRecord: 0.95,
		evidence.SourceSensor:           0.9,
		evidence.SourceManualEntry:      0.85,
		evidence.SourceDigitalTrace:     0.8,
		evidence.SourceWitnessStatement: 0.7,
		evidence.SourceCircumstantial:   0.6,
	}
}

// Contribution is one rule's entry in the score breakdown. Skipped and
// errored rules appear with zero weight so the audit trail shows every
// rule that ran, not only the ones that counted.
type Contribution struct {
	RuleID      string       `json:"rule_id"`
	Status      rules.Status `json:"status"`
	Tier        catalog.Tier `json:"tier"`
	Score       float64      `json:"score"`
	TierWeight  float64      `json:"tier_weight"`
	BaseWeight  float64      `json:"base_weight"`
	Quality     float64      `json:"quality"`
	Reliability float64      `json:"reliability"`
	Decay       float64      `json:"decay"`

	// Weight is the effective weight: tier * base * quality *
	// reliability * decay. Zero for skipped and errored rules.
	Weight float64 `json:"weight"`

	// Reason carries the skip or error explanation.
	Reason string `json:"reason,omitempty"`
}

// Score is the aggregated verdict for one case.
type Score struct {
	CaseID string `json:"case_id"`

	// Raw is the weighted mean of evaluated rule scores in [0,1],
	// before any veto or insufficient-evidence override. Kept so the
	// audit trail shows what the case scored on the merits.
	Raw float64 `json:"raw"`

	// Final is Raw, forced to zero when a veto fired or no rule
	// contributed weight.
	Final float64 `json:"final"`

	Risk RiskLevel `json:"risk"`

	// Vetoed reports that a veto rule forced the score to zero;
	// VetoedBy names the rules that fired, in catalog result order.
	Vetoed   bool     `json:"vetoed"`
	VetoedBy []string `json:"vetoed_by,omitempty"`

	// InsufficientEvidence reports that no rule contributed weight, so
	// Final is a default, not a verdict.
	InsufficientEvidence bool `json:"insufficient_evidence"`

	Contributions []Contribution `json:"contributions"`

	Evaluated int `json:"evaluated"`
	Skipped   int `json:"skipped"`
	Errored   int `json:"errored"`
}

// Aggregator folds rule results into case scores.
//
// Thread Safety: safe for concurrent use; all state is read-only.
type Aggregator struct {
	cfg         Config
	reliability evidence.ReliabilityProvider
	now         func() time.Time
}

// New creates an aggregator. A nil reliability provider uses the
// built-in table.
func New(cfg Config, reliability evidence.ReliabilityProvider) (*Aggregator, error) {
	if err := cfg.Decay.Normalize(); err != nil {
		return nil, err
	}
	if cfg.CutPoints == (CutPoints{}) {
		cfg.CutPoints = DefaultCutPoints()
	}
	if cfg.TierWeights == nil {
		cfg.TierWeights = defaultTierWeights()
	}
	if cfg.QualityMultipliers == nil {
		cfg.QualityMultipliers = defaultQualityMultipliers()
	}
	if reliability == nil {
		reliability = evidence.DefaultReliabilityTable()
	}
	return &Aggregator{cfg: cfg, reliability: reliability, now: time.Now}, nil
}

// Aggregate combines one case's rule results into a score.
//
// Only evaluated results carry weight; skipped and errored results
// appear in the breakdown at zero. Veto rules are checked over
// evaluated results only: a veto that could not evaluate has no
// verdict and therefore cannot fire.
func (a *Aggregator) Aggregate(cat *catalog.Catalog, facts *evidence.FactSet, results []rules.Result) (*Score, error) {
	table := a.reliability.Snapshot()
	now := a.now()

	score := &Score{
		CaseID:        facts.CaseID(),
		Contributions: make([]Contribution, 0, len(results)),
	}

	var totalWeight, weightedSum float64

	for _, res := range results {
		rule, ok := cat.Rule(res.RuleID)
		if !ok {
			return nil, fmt.Errorf("result references unknown rule %q", res.RuleID)
		}

		contrib := Contribution{
			RuleID: res.RuleID,
			Status: res.Status,
			Tier:   rule.Tier,
			Score:  res.Score,
			Reason: res.Reason,
		}

		switch res.Status {
		case rules.StatusSkipped:
			score.Skipped++
		case rules.StatusErrored:
			score.Errored++
		case rules.StatusEvaluated:
			score.Evaluated++

			quality, reliability, decay := a.evidenceFactors(facts, table, now, rule, res.EvidenceRefs)
			contrib.TierWeight = a.tierWeight(rule.Tier)
			contrib.BaseWeight = rule.BaseWeight
			contrib.Quality = quality
			contrib.Reliability = reliability
			contrib.Decay = decay
			contrib.Weight = contrib.TierWeight * rule.BaseWeight * quality * reliability * decay

			totalWeight += contrib.Weight
			weightedSum += contrib.Weight * res.Score

			if rule.VetoEnabled && res.Score < rule.VetoThreshold {
				score.Vetoed = true
				score.VetoedBy = append(score.VetoedBy, rule.ID)
			}
		default:
			return nil, fmt.Errorf("rule %q result has non-terminal status %q", res.RuleID, res.Status)
		}

		score.Contributions = append(score.Contributions, contrib)
	}

	if totalWeight > 0 {
		score.Raw = weightedSum / totalWeight
	}
	switch {
	case score.Vetoed:
		sort.Strings(score.VetoedBy)
		score.Final = 0
	case totalWeight == 0:
		score.InsufficientEvidence = true
		score.Final = 0
	default:
		score.Final = score.Raw
	}
	score.Risk = a.cfg.CutPoints.Level(score.Final)

	return score, nil
}

func (a *Aggregator) tierWeight(tier catalog.Tier) float64 {
	if w, ok := a.cfg.TierWeights[tier]; ok {
		return w
	}
	return defaultTierWeights()[tier]
}

func (a *Aggregator) qualityMultiplier(st evidence.SourceType) float64 {
	if m, ok := a.cfg.QualityMultipliers[st]; ok {
		return m
	}
	if m, ok := defaultQualityMultipliers()[st]; ok {
		return m
	}
	return 0.5
}

// evidenceFactors averages the quality, reliability, and decay weights
// of the facts a result rests on. A result with no resolvable evidence
// references gets neutral factors so it still counts at its tier and
// base weight.
func (a *Aggregator) evidenceFactors(facts *evidence.FactSet, table *evidence.ReliabilityTable, now time.Time, rule *catalog.Rule, refs []string) (quality, reliability, decay float64) {
	n := 0
	for _, ref := range refs {
		f, ok := facts.ByID(ref)
		if !ok {
			continue
		}
		n++
		quality += a.qualityMultiplier(f.SourceType)
		reliability += table.Reliability(f.SourceType, f.SourceID)
		decay += a.cfg.Decay.WeightAt(now, f.Timestamp, rule.Params.DecayCategory)
	}
	if n == 0 {
		return 1.0, 1.0, 1.0
	}
	k := float64(n)
	return quality / k, reliability / k, decay / k
}
