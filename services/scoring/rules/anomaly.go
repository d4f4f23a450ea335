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
	"math"
	"sort"

	"github.com/titanxw-wq/Customs/pkg/similarity"
	"github.com/titanxw-wq/Customs/services/scoring/evidence"
)

// evalAnomaly flags numeric observations of a field that sit far
// outside the field's own distribution.
//
// With method "zscore", a point is anomalous when |x - mean| > k*stddev
// and its per-point score is |z|/k clamped to [0,1]. With "iqr", the
// fences are Q1 - 1.5*IQR and Q3 + 1.5*IQR and the per-point score is
// the overshoot relative to the IQR. The rule score is
// 1 - anomaly_rate, and Matched reports that at least one point is
// anomalous. A degenerate distribution (zero spread) has no anomalies.
func evalAnomaly(_ context.Context, in Input) (Result, error) {
	p := in.Rule.Params

	values, owners := in.Facts.Numbers(p.Field)
	if len(values) == 0 {
		return Result{}, fmt.Errorf("%w: field %q has no numeric values", ErrInsufficientEvidence, p.Field)
	}

	var points map[string]float64
	switch p.Method {
	case "iqr":
		points = iqrScores(values, owners)
	default:
		points = zscoreScores(values, owners, p.K)
	}

	anomalies := 0
	for _, score := range points {
		if score > 0 {
			anomalies++
		}
	}

	rate := float64(anomalies) / float64(len(values))
	return Result{
		Matched:      anomalies > 0,
		Score:        similarity.Clamp(1.0-rate, 0, 1),
		EvidenceRefs: factIDs(owners),
		Reason:       fmt.Sprintf("%d of %d points anomalous (%s)", anomalies, len(values), p.Method),
		PointScores:  points,
	}, nil
}

// zscoreScores scores each point by its z-score relative to the cutoff
// k. Points within the cutoff score zero.
func zscoreScores(values []float64, owners []evidence.Fact, k float64) map[string]float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	stddev := math.Sqrt(variance)

	points := make(map[string]float64, len(values))
	for i, v := range values {
		score := 0.0
		if stddev > 0 {
			if z := math.Abs(v-mean) / stddev; z > k {
				score = similarity.Clamp(z/k-1, 0, 1)
			}
		}
		points[owners[i].ID] = score
	}
	return points
}

// iqrScores scores each point by how far it falls outside the Tukey
// fences, relative to the interquartile range.
func iqrScores(values []float64, owners []evidence.Fact) map[string]float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	points := make(map[string]float64, len(values))
	for i, v := range values {
		score := 0.0
		if iqr > 0 {
			switch {
			case v < lower:
				score = similarity.Clamp((lower-v)/iqr, 0, 1)
			case v > upper:
				score = similarity.Clamp((v-upper)/iqr, 0, 1)
			}
		}
		points[owners[i].ID] = score
	}
	return points
}

// quantile interpolates the q-th quantile of a sorted series.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
