// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/titanxw-wq/Customs/pkg/similarity"
	"github.com/titanxw-wq/Customs/services/scoring/evidence"
)

// evalTimeWindow checks that the target timestamp field sits within a
// tolerance window of every reference timestamp field.
//
// For each reference field, the distance is the smallest gap between
// any target timestamp and any of that field's timestamps. The rule
// matches when every reference field is within tolerance; the score is
// 1 - worst_distance/tolerance, clamped to [0,1], so the least aligned
// reference drives the verdict.
func evalTimeWindow(_ context.Context, in Input) (Result, error) {
	p := in.Rule.Params

	targets, targetFacts := in.Facts.Dates(p.Field)
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("%w: field %q has no date values", ErrInsufficientEvidence, p.Field)
	}

	tolerance := time.Duration(p.ToleranceSeconds * float64(time.Second))

	refs := make([]evidence.Fact, 0)
	var worst time.Duration
	compared := 0

	for _, refField := range p.ReferenceFields {
		refDates, refFacts := in.Facts.Dates(refField)
		if len(refDates) == 0 {
			continue
		}
		compared++
		refs = append(refs, refFacts...)

		// Smallest gap between any target and this reference series.
		best := time.Duration(-1)
		for _, target := range targets {
			if d, ok := similarity.MinDistance(target, refDates); ok {
				if best < 0 || d < best {
					best = d
				}
			}
		}
		if best > worst {
			worst = best
		}
	}

	if compared == 0 {
		return Result{}, fmt.Errorf("%w: no reference timestamps among %v", ErrInsufficientEvidence, p.ReferenceFields)
	}

	matched := worst <= tolerance
	score := 0.0
	reason := fmt.Sprintf("worst deviation %s exceeds tolerance %s", worst, tolerance)
	if matched {
		score = similarity.WindowScore(worst, tolerance)
		reason = fmt.Sprintf("all references within %s (worst deviation %s)", tolerance, worst)
	}

	return Result{
		Matched:      matched,
		Score:        score,
		EvidenceRefs: factIDs(append(targetFacts, refs...)),
		Reason:       reason,
	}, nil
}
