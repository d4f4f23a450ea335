// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package catalog loads and validates the versioned rule catalog and
// computes the dependency-ordered execution phases.
//
// A catalog is loaded once at startup and is immutable afterwards;
// changing a rule requires loading a new catalog version, never
// in-place mutation during a run. Malformed definitions and dependency
// cycles are configuration errors that block service startup — they
// are never per-case failures.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Tier classifies how much a rule's verdict matters.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// Kind is the closed set of rule evaluation behaviors. Evaluation
// functions are resolved from an immutable registry by kind, never by
// ad hoc dispatch.
type Kind string

const (
	KindTimeWindow             Kind = "time_window"
	KindIdentityMatch          Kind = "identity_match"
	KindAmountValidator        Kind = "amount_validator"
	KindCrossSourceConsistency Kind = "cross_source_consistency"
	KindAnomaly                Kind = "anomaly"
)

// Params carries the kind-specific tuning of a rule. Which fields are
// meaningful depends on the rule's Kind; Load rejects combinations the
// kind cannot use.
type Params struct {
	// Field is the target evidentiary field (all kinds).
	Field string `yaml:"field" json:"field"`

	// ReferenceFields are compared against Field (time_window,
	// identity_match, amount_validator).
	ReferenceFields []string `yaml:"reference_fields,omitempty" json:"reference_fields,omitempty"`

	// ToleranceSeconds is the time window half-width (time_window).
	ToleranceSeconds float64 `yaml:"tolerance_seconds,omitempty" json:"tolerance_seconds,omitempty"`

	// SimilarityThreshold is the fuzzy-match cutoff (identity_match,
	// cross_source_consistency). Default 0.9.
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty" json:"similarity_threshold,omitempty"`

	// TolerancePercent is the allowed relative deviation, as a
	// fraction (amount_validator). Default 0.05.
	TolerancePercent float64 `yaml:"tolerance_percent,omitempty" json:"tolerance_percent,omitempty"`

	// Currency maps a field name to its ISO currency code
	// (amount_validator). Fields absent from the map are assumed to
	// already be in TargetCurrency.
	Currency map[string]string `yaml:"currency,omitempty" json:"currency,omitempty"`

	// TargetCurrency is the common unit amounts are converted to
	// (amount_validator). Default "USD".
	TargetCurrency string `yaml:"target_currency,omitempty" json:"target_currency,omitempty"`

	// Method selects the anomaly test: "zscore" or "iqr" (anomaly).
	// Default "zscore".
	Method string `yaml:"method,omitempty" json:"method,omitempty"`

	// K is the z-score cutoff (anomaly). Default 3.
	K float64 `yaml:"k,omitempty" json:"k,omitempty"`

	// DecayCategory tags the rule's evidence for the decay override
	// list (e.g. "historical_conviction").
	DecayCategory string `yaml:"decay_category,omitempty" json:"decay_category,omitempty"`
}

// Rule is one versioned rule definition.
type Rule struct {
	// ID uniquely identifies the rule within the catalog.
	ID string `yaml:"id" json:"id" validate:"required"`

	// Kind selects the evaluation behavior.
	Kind Kind `yaml:"kind" json:"kind" validate:"required,oneof=time_window identity_match amount_validator cross_source_consistency anomaly"`

	// Description explains what the rule checks.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Tier classifies the rule's weight class.
	Tier Tier `yaml:"tier" json:"tier" validate:"required,oneof=critical high medium low"`

	// BaseWeight is the rule's own weight in [0,1], combined with the
	// tier weight by the aggregator.
	BaseWeight float64 `yaml:"base_weight" json:"base_weight" validate:"gte=0,lte=1"`

	// VetoEnabled marks the rule as a veto rule: scoring below
	// VetoThreshold forces the case's final score to zero.
	VetoEnabled bool `yaml:"veto_enabled,omitempty" json:"veto_enabled,omitempty"`

	// VetoThreshold is the veto trigger level. Default 0.5.
	VetoThreshold float64 `yaml:"veto_threshold,omitempty" json:"veto_threshold,omitempty" validate:"gte=0,lte=1"`

	// MinEvidenceCount is the minimum number of facts for the target
	// field; below it the rule is skipped, which is not an error.
	MinEvidenceCount int `yaml:"min_evidence_count,omitempty" json:"min_evidence_count,omitempty" validate:"gte=0"`

	// DependsOn lists rule ids that must reach a terminal status
	// before this rule runs.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`

	// Enabled defaults to true; disabled rules stay in the catalog
	// for audit but never execute.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Params is the kind-specific tuning.
	Params Params `yaml:"params" json:"params"`
}

// IsEnabled reports whether the rule should execute.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// catalogFile is the on-disk shape of a catalog document.
type catalogFile struct {
	Version string `yaml:"version" validate:"required"`
	Rules   []Rule `yaml:"rules" validate:"required,min=1,dive"`
}

// Catalog is a loaded, validated, immutable rule catalog.
//
// Thread Safety: read-only after Load; safe for concurrent reads.
type Catalog struct {
	version string
	rules   []Rule
	byID    map[string]*Rule
	phases  [][]string
}

// ConfigurationError is the fatal, load-time failure class: malformed
// rule definitions or a cyclic dependency graph. It blocks service
// startup and is never a per-case failure.
type ConfigurationError struct {
	// Reason describes what is wrong with the catalog.
	Reason string

	// RuleIDs names the offending rules, when identifiable.
	RuleIDs []string
}

func (e *ConfigurationError) Error() string {
	if len(e.RuleIDs) == 0 {
		return fmt.Sprintf("catalog configuration: %s", e.Reason)
	}
	return fmt.Sprintf("catalog configuration: %s (rules: %s)", e.Reason, strings.Join(e.RuleIDs, ", "))
}

// Load reads and validates a catalog from a YAML file, then computes
// its execution phases. Any failure is a *ConfigurationError (wrapped
// for I/O problems) and must be treated as fatal by the caller.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML bytes. See Load.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("malformed YAML: %v", err)}
	}

	validate := validator.New()
	if err := validate.Struct(&file); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("schema validation failed: %v", err)}
	}

	c := &Catalog{
		version: file.Version,
		rules:   file.Rules,
		byID:    make(map[string]*Rule, len(file.Rules)),
	}

	for i := range c.rules {
		rule := &c.rules[i]
		if _, dup := c.byID[rule.ID]; dup {
			return nil, &ConfigurationError{Reason: "duplicate rule id", RuleIDs: []string{rule.ID}}
		}
		applyDefaults(rule)
		if err := validateParams(rule); err != nil {
			return nil, err
		}
		c.byID[rule.ID] = rule
	}

	// Dependency edges must point at known rules.
	for i := range c.rules {
		rule := &c.rules[i]
		for _, dep := range rule.DependsOn {
			if _, ok := c.byID[dep]; !ok {
				return nil, &ConfigurationError{
					Reason:  fmt.Sprintf("depends_on references unknown rule %q", dep),
					RuleIDs: []string{rule.ID},
				}
			}
			if dep == rule.ID {
				return nil, &ConfigurationError{Reason: "rule depends on itself", RuleIDs: []string{rule.ID}}
			}
		}
	}

	phases, err := schedulePhases(c.rules)
	if err != nil {
		return nil, err
	}
	c.phases = phases

	return c, nil
}

// applyDefaults fills per-rule defaults the YAML may omit.
func applyDefaults(rule *Rule) {
	if rule.VetoEnabled && rule.VetoThreshold == 0 {
		rule.VetoThreshold = 0.5
	}
	if rule.MinEvidenceCount == 0 {
		rule.MinEvidenceCount = 1
	}
	p := &rule.Params
	switch rule.Kind {
	case KindIdentityMatch, KindCrossSourceConsistency:
		if p.SimilarityThreshold == 0 {
			p.SimilarityThreshold = 0.9
		}
	case KindAmountValidator:
		if p.TolerancePercent == 0 {
			p.TolerancePercent = 0.05
		}
		if p.TargetCurrency == "" {
			p.TargetCurrency = "USD"
		}
	case KindAnomaly:
		if p.Method == "" {
			p.Method = "zscore"
		}
		if p.K == 0 {
			p.K = 3
		}
	}
}

// validateParams enforces the kind-specific parameter contract.
func validateParams(rule *Rule) error {
	bad := func(format string, args ...any) error {
		return &ConfigurationError{Reason: fmt.Sprintf(format, args...), RuleIDs: []string{rule.ID}}
	}
	p := rule.Params
	if p.Field == "" {
		return bad("params.field is required")
	}
	switch rule.Kind {
	case KindTimeWindow:
		if len(p.ReferenceFields) == 0 {
			return bad("time_window requires reference_fields")
		}
		if p.ToleranceSeconds <= 0 {
			return bad("time_window requires a positive tolerance_seconds")
		}
	case KindIdentityMatch:
		if len(p.ReferenceFields) == 0 {
			return bad("identity_match requires reference_fields")
		}
		if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
			return bad("similarity_threshold %f outside [0,1]", p.SimilarityThreshold)
		}
	case KindAmountValidator:
		if len(p.ReferenceFields) == 0 {
			return bad("amount_validator requires reference_fields")
		}
		if p.TolerancePercent <= 0 {
			return bad("amount_validator requires a positive tolerance_percent")
		}
	case KindAnomaly:
		if p.Method != "zscore" && p.Method != "iqr" {
			return bad("anomaly method must be zscore or iqr, got %q", p.Method)
		}
		if p.K <= 0 {
			return bad("anomaly requires a positive k")
		}
	case KindCrossSourceConsistency:
		if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
			return bad("similarity_threshold %f outside [0,1]", p.SimilarityThreshold)
		}
	}
	return nil
}

// Version returns the catalog's version identifier.
func (c *Catalog) Version() string { return c.version }

// Rule looks up a rule by id.
func (c *Catalog) Rule(id string) (*Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Rules returns all rule definitions in catalog order. The returned
// slice must not be modified.
func (c *Catalog) Rules() []Rule { return c.rules }

// Len returns the number of rules.
func (c *Catalog) Len() int { return len(c.rules) }

// Phases returns the dependency-ordered execution phases. Rules inside
// one phase have no ordering guarantee and may run fully in parallel;
// a later phase may read the results of every earlier phase.
func (c *Catalog) Phases() [][]string {
	out := make([][]string, len(c.phases))
	for i, phase := range c.phases {
		out[i] = append([]string(nil), phase...)
	}
	return out
}

// schedulePhases computes execution phases with Kahn's algorithm:
// repeatedly extract every rule whose dependencies are already
// scheduled. If an iteration makes no progress, the remaining rules
// form at least one cycle and the catalog is rejected.
func schedulePhases(rules []Rule) ([][]string, error) {
	remaining := make(map[string][]string, len(rules))
	order := make([]string, 0, len(rules))
	for i := range rules {
		remaining[rules[i].ID] = rules[i].DependsOn
		order = append(order, rules[i].ID)
	}

	scheduled := make(map[string]bool, len(rules))
	var phases [][]string

	for len(remaining) > 0 {
		var phase []string
		for _, id := range order {
			deps, ok := remaining[id]
			if !ok {
				continue
			}
			ready := true
			for _, dep := range deps {
				if !scheduled[dep] {
					ready = false
					break
				}
			}
			if ready {
				phase = append(phase, id)
			}
		}

		if len(phase) == 0 {
			// No progress: everything left participates in a cycle or
			// depends on one.
			cyclic := make([]string, 0, len(remaining))
			for id := range remaining {
				cyclic = append(cyclic, id)
			}
			sort.Strings(cyclic)
			return nil, &ConfigurationError{
				Reason:  "dependency cycle detected",
				RuleIDs: cyclic,
			}
		}

		for _, id := range phase {
			scheduled[id] = true
			delete(remaining, id)
		}
		phases = append(phases, phase)
	}

	return phases, nil
}
