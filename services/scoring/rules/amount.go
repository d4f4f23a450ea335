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

// amountEvaluator builds the amount_validator evaluation over a
// currency converter.
//
// The target field's most confident numeric value is compared against
// each reference field's most confident numeric value, all converted
// to the rule's target currency. The rule matches when the worst
// relative deviation is within tolerance_percent; the score is
// 1 - worst_deviation, clamped to [0,1]. A missing exchange rate is a
// computation error that degrades only this rule.
func amountEvaluator(converter *Converter) EvaluateFunc {
	return func(ctx context.Context, in Input) (Result, error) {
		p := in.Rule.Params

		target, ok := bestNumeric(in.Facts, p.Field)
		if !ok {
			return Result{}, fmt.Errorf("%w: field %q has no numeric values", ErrInsufficientEvidence, p.Field)
		}

		targetValue, err := toTargetCurrency(ctx, converter, target.Value.Number, p.Currency[p.Field], p.TargetCurrency)
		if err != nil {
			return Result{}, err
		}

		evidenceRefs := []string{target.ID}
		worst := 0.0
		compared := 0

		for _, refField := range p.ReferenceFields {
			ref, ok := bestNumeric(in.Facts, refField)
			if !ok {
				continue
			}
			refValue, err := toTargetCurrency(ctx, converter, ref.Value.Number, p.Currency[refField], p.TargetCurrency)
			if err != nil {
				return Result{}, err
			}
			compared++
			evidenceRefs = append(evidenceRefs, ref.ID)

			if dev := similarity.RelativeDeviation(targetValue, refValue); dev > worst {
				worst = dev
			}
		}

		if compared == 0 {
			return Result{}, fmt.Errorf("%w: no reference amounts among %v", ErrInsufficientEvidence, p.ReferenceFields)
		}

		matched := worst <= p.TolerancePercent
		reason := fmt.Sprintf("worst deviation %.4f within tolerance %.4f", worst, p.TolerancePercent)
		if !matched {
			reason = fmt.Sprintf("worst deviation %.4f exceeds tolerance %.4f", worst, p.TolerancePercent)
		}

		return Result{
			Matched:      matched,
			Score:        similarity.Clamp(1.0-worst, 0, 1),
			EvidenceRefs: evidenceRefs,
			Reason:       reason,
		}, nil
	}
}

// toTargetCurrency converts when the field declares a currency other
// than the target. Fields without a declared currency are assumed to
// already be in the target unit.
func toTargetCurrency(ctx context.Context, converter *Converter, amount float64, from, target string) (float64, error) {
	if from == "" || from == target {
		return amount, nil
	}
	if converter == nil {
		return 0, fmt.Errorf("currency conversion %s->%s required but no converter configured", from, target)
	}
	return converter.Convert(ctx, amount, from, target)
}

// bestNumeric returns the highest-confidence numeric fact of a field.
func bestNumeric(fs *evidence.FactSet, field string) (evidence.Fact, bool) {
	var best evidence.Fact
	found := false
	for _, f := range fs.Field(field) {
		if f.Value.Kind != evidence.KindNumber {
			continue
		}
		if !found || f.Confidence > best.Confidence {
			best = f
			found = true
		}
	}
	return best, found
}
