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

// evalIdentityMatch compares identifier fields (order ids, container
// numbers, consignee names) against reference fields.
//
// Exact match scores 1.0. Otherwise the best Levenshtein similarity
// across all target/reference pairs decides: at or above the
// configured threshold the rule matches with score = similarity,
// tolerating OCR and transcription noise; below it the rule does not
// match and scores 0.
func evalIdentityMatch(_ context.Context, in Input) (Result, error) {
	p := in.Rule.Params

	targets := stringFacts(in.Facts, p.Field)
	if len(targets) == 0 {
		return Result{}, fmt.Errorf("%w: field %q has no string values", ErrInsufficientEvidence, p.Field)
	}

	var refs []evidence.Fact
	for _, refField := range p.ReferenceFields {
		refs = append(refs, stringFacts(in.Facts, refField)...)
	}
	if len(refs) == 0 {
		return Result{}, fmt.Errorf("%w: no reference identifiers among %v", ErrInsufficientEvidence, p.ReferenceFields)
	}

	best := 0.0
	var bestTarget, bestRef evidence.Fact
	for _, target := range targets {
		for _, ref := range refs {
			_, ratio := similarity.TextMatch(target.Value.Text, ref.Value.Text, p.SimilarityThreshold)
			if ratio > best {
				best = ratio
				bestTarget, bestRef = target, ref
			}
		}
	}

	evidenceRefs := factIDs(append(targets, refs...))

	if best >= 1.0 {
		return Result{
			Matched:      true,
			Score:        1.0,
			EvidenceRefs: evidenceRefs,
			Reason:       fmt.Sprintf("exact match between %s and %s", bestTarget.ID, bestRef.ID),
		}, nil
	}
	if best >= p.SimilarityThreshold {
		return Result{
			Matched:      true,
			Score:        best,
			EvidenceRefs: evidenceRefs,
			Reason:       fmt.Sprintf("fuzzy match at similarity %.3f (threshold %.2f)", best, p.SimilarityThreshold),
		}, nil
	}
	return Result{
		Matched:      false,
		Score:        0,
		EvidenceRefs: evidenceRefs,
		Reason:       fmt.Sprintf("best similarity %.3f below threshold %.2f", best, p.SimilarityThreshold),
	}, nil
}

// stringFacts returns the facts of a field carrying string values.
func stringFacts(fs *evidence.FactSet, field string) []evidence.Fact {
	var out []evidence.Fact
	for _, f := range fs.Field(field) {
		if f.Value.Kind == evidence.KindString {
			out = append(out, f)
		}
	}
	return out
}
