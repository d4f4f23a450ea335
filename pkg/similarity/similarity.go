// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package similarity provides pure comparison functions shared by
// scoring rules and field fusion: fuzzy string matching, numeric
// tolerance checks, and time-window distance.
//
// All functions are deterministic and safe for concurrent use.
package similarity

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// Levenshtein computes the edit distance between two strings.
//
// Operates on runes, not bytes, so multi-byte identifiers compare
// correctly. Uses the two-row iterative variant (O(min(m,n)) memory).
func Levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	// Keep the shorter string as the row to minimize memory.
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// Ratio returns the Levenshtein similarity of two strings in [0,1].
//
// 1.0 means identical; 0.0 means nothing in common. Defined as
// 1 - distance/max(len(a), len(b)). Two empty strings are identical.
func Ratio(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	if la == 0 && lb == 0 {
		return 1.0
	}
	longest := la
	if lb > longest {
		longest = lb
	}
	return 1.0 - float64(Levenshtein(a, b))/float64(longest)
}

// NormalizeText lowercases a string and collapses internal whitespace,
// so that OCR and transcript artifacts don't defeat exact comparison.
func NormalizeText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			sb.WriteRune(' ')
			space = false
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// TextMatch reports whether two strings agree at or above the given
// similarity threshold after normalization. Exact normalized equality
// always matches regardless of threshold.
func TextMatch(a, b string, threshold float64) (bool, float64) {
	na := NormalizeText(a)
	nb := NormalizeText(b)
	if na == nb {
		return true, 1.0
	}
	ratio := Ratio(na, nb)
	return ratio >= threshold, ratio
}

// RelativeDeviation returns |value-reference| / |reference|.
//
// When the reference is zero, any non-zero value is treated as full
// deviation (1.0) and a zero value as no deviation, keeping the result
// meaningful for amount comparisons without dividing by zero.
func RelativeDeviation(value, reference float64) float64 {
	if reference == 0 {
		if value == 0 {
			return 0
		}
		return 1.0
	}
	return math.Abs(value-reference) / math.Abs(reference)
}

// WithinTolerance reports whether value deviates from reference by at
// most tolerance (a fraction, e.g. 0.05 for 5%).
func WithinTolerance(value, reference, tolerance float64) bool {
	return RelativeDeviation(value, reference) <= tolerance
}

// MinDistance returns the smallest absolute distance between target
// and any of the reference timestamps. Returns false when refs is
// empty.
func MinDistance(target time.Time, refs []time.Time) (time.Duration, bool) {
	if len(refs) == 0 {
		return 0, false
	}
	best := absDuration(target.Sub(refs[0]))
	for _, ref := range refs[1:] {
		if d := absDuration(target.Sub(ref)); d < best {
			best = d
		}
	}
	return best, true
}

// WindowScore scores how close a distance falls within a tolerance
// window: 1 - distance/tolerance, clamped to [0,1]. A zero or negative
// tolerance scores zero.
func WindowScore(distance, tolerance time.Duration) float64 {
	if tolerance <= 0 {
		return 0
	}
	return Clamp(1.0-float64(distance)/float64(tolerance), 0, 1)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
