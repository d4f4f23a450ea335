// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DecayKind selects the decay function family.
type DecayKind string

const (
	// DecayExponential: max(min_weight, 0.5^(age_days/half_life)).
	DecayExponential DecayKind = "exponential"

	// DecayLinear: max(min_weight, 1 - age_days/(2*half_life)).
	DecayLinear DecayKind = "linear"

	// DecayStepped: piecewise weights by age threshold.
	DecayStepped DecayKind = "stepped"
)

// DecayStep is one threshold of a stepped decay schedule: evidence
// older than MaxAgeDays falls through to the next step.
type DecayStep struct {
	MaxAgeDays float64 `yaml:"max_age_days" json:"max_age_days"`
	Weight     float64 `yaml:"weight" json:"weight"`
}

// DecayConfig describes how evidence weight decays with age.
//
// A zero value is not usable; call Normalize (or start from
// DefaultDecayConfig) before use. Immutable after that; safe for
// concurrent reads.
type DecayConfig struct {
	// Kind selects the function family. Default: exponential.
	Kind DecayKind `yaml:"kind" json:"kind"`

	// HalfLifeDays is the half-life for exponential decay and the
	// slope parameter for linear decay. Default: 180.
	HalfLifeDays float64 `yaml:"half_life_days" json:"half_life_days"`

	// MinWeight is the floor decay never drops below. Default: 0.3.
	MinWeight float64 `yaml:"min_weight" json:"min_weight"`

	// Steps is the schedule for stepped decay, ordered by MaxAgeDays.
	// Evidence older than the last step gets MinWeight.
	Steps []DecayStep `yaml:"steps,omitempty" json:"steps,omitempty"`

	// NeverDecay lists evidence categories whose weight is always 1.0
	// regardless of age (e.g. "historical_conviction").
	NeverDecay []string `yaml:"never_decay,omitempty" json:"never_decay,omitempty"`
}

// DefaultDecayConfig returns the standard decay: exponential,
// 180-day half-life, 0.3 floor.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		Kind:         DecayExponential,
		HalfLifeDays: 180,
		MinWeight:    0.3,
	}
}

// Normalize fills zero fields with defaults and validates the config.
func (c *DecayConfig) Normalize() error {
	if c.Kind == "" {
		c.Kind = DecayExponential
	}
	if c.HalfLifeDays == 0 {
		c.HalfLifeDays = 180
	}
	if c.MinWeight == 0 {
		c.MinWeight = 0.3
	}
	switch c.Kind {
	case DecayExponential, DecayLinear:
		if c.HalfLifeDays < 0 {
			return fmt.Errorf("decay: half_life_days must be positive, got %f", c.HalfLifeDays)
		}
	case DecayStepped:
		if len(c.Steps) == 0 {
			return fmt.Errorf("decay: stepped kind requires at least one step")
		}
		sort.Slice(c.Steps, func(i, j int) bool { return c.Steps[i].MaxAgeDays < c.Steps[j].MaxAgeDays })
		for i, s := range c.Steps {
			if s.Weight < 0 || s.Weight > 1 {
				return fmt.Errorf("decay: step weight %f outside [0,1]", s.Weight)
			}
			// Weights must not grow with age or decay stops being
			// monotone.
			if i > 0 && s.Weight > c.Steps[i-1].Weight {
				return fmt.Errorf("decay: step weight %f at %f days exceeds the previous step's %f",
					s.Weight, s.MaxAgeDays, c.Steps[i-1].Weight)
			}
		}
	default:
		return fmt.Errorf("decay: unknown kind %q", c.Kind)
	}
	if c.MinWeight < 0 || c.MinWeight > 1 {
		return fmt.Errorf("decay: min_weight %f outside [0,1]", c.MinWeight)
	}
	return nil
}

// Weight returns the decay weight for evidence of the given age.
//
// Monotone non-increasing in age, never below MinWeight, and exactly
// 1.0 for categories listed in NeverDecay. Negative ages (clock skew)
// are treated as zero.
func (c DecayConfig) Weight(age time.Duration, category string) float64 {
	for _, never := range c.NeverDecay {
		if never == category {
			return 1.0
		}
	}

	ageDays := age.Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	switch c.Kind {
	case DecayLinear:
		return math.Max(c.MinWeight, 1.0-ageDays/(2*c.HalfLifeDays))
	case DecayStepped:
		for _, step := range c.Steps {
			if ageDays <= step.MaxAgeDays {
				return math.Max(c.MinWeight, step.Weight)
			}
		}
		return c.MinWeight
	default: // exponential
		return math.Max(c.MinWeight, math.Pow(0.5, ageDays/c.HalfLifeDays))
	}
}

// WeightAt is Weight for evidence timestamped at ts, observed at now.
func (c DecayConfig) WeightAt(now, ts time.Time, category string) float64 {
	return c.Weight(now.Sub(ts), category)
}
