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

	"github.com/titanxw-wq/Customs/pkg/similarity"
	"github.com/titanxw-wq/Customs/services/scoring/evidence"
)

// evalCrossSourceConsistency measures how much independent sources
// agree on one field. It is a signal, not a resolver: detecting a
// disagreement never picks a winning value, that is consensus work
// downstream.
//
// Every pair of facts for the field is compared: strings fuzzily
// against the similarity threshold, numbers and dates exactly. The
// score is 1 - disagreement_rate over all pairs; Matched reports that
// at least one disagreement exists. A single fact is trivially
// consistent and scores 1.
func evalCrossSourceConsistency(_ context.Context, in Input) (Result, error) {
	p := in.Rule.Params

	facts := in.Facts.Field(p.Field)
	if len(facts) == 0 {
		return Result{}, fmt.Errorf("%w: field %q has no values", ErrInsufficientEvidence, p.Field)
	}

	if len(facts) == 1 {
		return Result{
			Matched:      false,
			Score:        1.0,
			EvidenceRefs: factIDs(facts),
			Reason:       "single source, trivially consistent",
		}, nil
	}

	pairs := 0
	disagreements := 0
	for i := 0; i < len(facts); i++ {
		for j := i + 1; j < len(facts); j++ {
			pairs++
			if !valuesAgree(facts[i].Value, facts[j].Value, p.SimilarityThreshold) {
				disagreements++
			}
		}
	}

	rate := float64(disagreements) / float64(pairs)
	return Result{
		Matched:      disagreements > 0,
		Score:        similarity.Clamp(1.0-rate, 0, 1),
		EvidenceRefs: factIDs(facts),
		Reason:       fmt.Sprintf("%d of %d fact pairs disagree", disagreements, pairs),
	}, nil
}

// valuesAgree compares two observations of the same field. Strings
// tolerate transcription noise up to the threshold; everything else
// must match exactly. Mixed kinds always disagree.
func valuesAgree(a, b evidence.Value, threshold float64) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == evidence.KindString {
		matched, _ := similarity.TextMatch(a.Text, b.Text, threshold)
		return matched
	}
	return a.Equal(b)
}
