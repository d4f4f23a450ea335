// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fusion

import (
	"math"
	"testing"
	"time"

	"github.com/titanxw-wq/Customs/services/scoring/evidence"
)

func mustResolver(t *testing.T, cfg Config) *Resolver {
	t.Helper()
	r, err := NewResolver(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func mustFacts(t *testing.T, facts []evidence.Fact) *evidence.FactSet {
	t.Helper()
	fs, err := evidence.NewFactSet("case-1", facts)
	if err != nil {
		t.Fatalf("NewFactSet: %v", err)
	}
	return fs
}

func fact(id, field string, v evidence.Value, st evidence.SourceType, conf float64, ts time.Time) evidence.Fact {
	return evidence.Fact{
		ID: id, CaseID: "case-1", FieldName: field, Value: v,
		SourceID: "src-" + id, SourceType: st, Confidence: conf, Timestamp: ts,
	}
}

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestResolverConfig(t *testing.T) {
	t.Run("default numeric strategy is required", func(t *testing.T) {
		if _, err := NewResolver(Config{}, nil, nil); err == nil {
			t.Fatal("expected error for missing default_numeric")
		}
	})
	t.Run("unknown per-field strategy rejected", func(t *testing.T) {
		cfg := Config{
			DefaultNumeric: StrategyHighestConfidence,
			Fields:         map[string]Strategy{"weight_kg": Strategy("coin_flip")},
		}
		if _, err := NewResolver(cfg, nil, nil); err == nil {
			t.Fatal("expected error for unknown strategy")
		}
	})
}

func TestResolveAgreement(t *testing.T) {
	r := mustResolver(t, Config{DefaultNumeric: StrategyHighestConfidence})

	t.Run("unanimous sources keep max confidence", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "country_of_origin", evidence.String("Germany"), evidence.SourceOfficialDocument, 0.95, base),
			fact("f2", "country_of_origin", evidence.String("Germany"), evidence.SourceCommercialRecord, 0.85, base),
		})
		got, ok := r.Resolve(facts, "country_of_origin")
		if !ok {
			t.Fatal("expected a consensus field")
		}
		if got.Conflict || !got.Resolved {
			t.Fatalf("agreement misclassified: %+v", got)
		}
		if got.Confidence != 0.95 || got.WinnerFactID != "f1" {
			t.Errorf("winner = %s at %f, want f1 at 0.95", got.WinnerFactID, got.Confidence)
		}
		if len(got.Losing) != 1 || got.Losing[0].FactID != "f2" {
			t.Errorf("losing = %+v", got.Losing)
		}
	})

	t.Run("fuzzy text agreement tolerates transcription noise", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "consignee", evidence.String("Alpine Trading GmbH"), evidence.SourceOfficialDocument, 0.9, base),
			fact("f2", "consignee", evidence.String("alpine  trading gmbh"), evidence.SourceDigitalTrace, 0.7, base),
		})
		got, ok := r.Resolve(facts, "consignee")
		if !ok || got.Conflict {
			t.Fatalf("normalized text must agree: %+v", got)
		}
	})

	t.Run("missing field resolves nothing", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "consignee", evidence.String("Alpine"), evidence.SourceOfficialDocument, 0.9, base),
		})
		if _, ok := r.Resolve(facts, "weight_kg"); ok {
			t.Fatal("expected no consensus for an unobserved field")
		}
	})
}

func TestResolveHighestConfidence(t *testing.T) {
	r := mustResolver(t, Config{DefaultNumeric: StrategyHighestConfidence})

	t.Run("most confident wins and conflict is recorded", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "declared_value", evidence.Number(5800), evidence.SourceOfficialDocument, 0.95, base),
			fact("f2", "declared_value", evidence.Number(5600), evidence.SourceCommercialRecord, 0.90, base),
		})
		got, ok := r.Resolve(facts, "declared_value")
		if !ok {
			t.Fatal("expected a consensus field")
		}
		if !got.Conflict || !got.Resolved {
			t.Fatalf("conflict state wrong: %+v", got)
		}
		if got.Value.Number != 5800 || got.WinnerFactID != "f1" {
			t.Errorf("winner = %s value %f", got.WinnerFactID, got.Value.Number)
		}
		if len(got.Losing) != 1 || got.Losing[0].FactID != "f2" {
			t.Errorf("losing candidates must be recorded: %+v", got.Losing)
		}
	})

	t.Run("equal confidence breaks on recency", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "declared_value", evidence.Number(5800), evidence.SourceOfficialDocument, 0.9, base),
			fact("f2", "declared_value", evidence.Number(5600), evidence.SourceOfficialDocument, 0.9, base.Add(time.Hour)),
		})
		got, _ := r.Resolve(facts, "declared_value")
		if got.WinnerFactID != "f2" {
			t.Errorf("winner = %s, want the more recent f2", got.WinnerFactID)
		}
	})

	t.Run("equal confidence and timestamp breaks on reliability", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "declared_value", evidence.Number(5600), evidence.SourceWitnessStatement, 0.9, base),
			fact("f2", "declared_value", evidence.Number(5800), evidence.SourceOfficialDocument, 0.9, base),
		})
		got, _ := r.Resolve(facts, "declared_value")
		if got.WinnerFactID != "f2" {
			t.Errorf("winner = %s, want the more reliable f2", got.WinnerFactID)
		}
	})
}

func TestResolveWeightedAverage(t *testing.T) {
	r := mustResolver(t, Config{DefaultNumeric: StrategyWeightedAverage})

	t.Run("blend is confidence weighted", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "declared_value", evidence.Number(5800), evidence.SourceOfficialDocument, 0.95, base),
			fact("f2", "declared_value", evidence.Number(5600), evidence.SourceCommercialRecord, 0.90, base),
		})
		got, ok := r.Resolve(facts, "declared_value")
		if !ok || !got.Resolved {
			t.Fatalf("expected resolved blend: %+v", got)
		}
		want := (5800*0.95 + 5600*0.90) / (0.95 + 0.90)
		if math.Abs(got.Value.Number-want) > 1e-9 {
			t.Errorf("blend = %f, want %f", got.Value.Number, want)
		}
		if got.WinnerFactID != "" {
			t.Errorf("a blend has no single winning fact, got %q", got.WinnerFactID)
		}
		if len(got.Losing) != 2 {
			t.Errorf("all contributing candidates must be recorded: %+v", got.Losing)
		}
	})

	t.Run("blend never leaves the candidate range", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "declared_value", evidence.Number(100), evidence.SourceOfficialDocument, 0.9, base),
			fact("f2", "declared_value", evidence.Number(200), evidence.SourceCommercialRecord, 0.8, base),
			fact("f3", "declared_value", evidence.Number(150), evidence.SourceDigitalTrace, 0.7, base),
		})
		got, _ := r.Resolve(facts, "declared_value")
		if got.Value.Number < 100 || got.Value.Number > 200 {
			t.Errorf("blend %f outside candidate range [100,200]", got.Value.Number)
		}
	})

	t.Run("averaging text is unresolved without an arbitrator", func(t *testing.T) {
		avgText := mustResolver(t, Config{
			DefaultNumeric: StrategyWeightedAverage,
			Fields:         map[string]Strategy{"consignee": StrategyWeightedAverage},
		})
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "consignee", evidence.String("Alpine Trading"), evidence.SourceOfficialDocument, 0.9, base),
			fact("f2", "consignee", evidence.String("Nordsee Imports"), evidence.SourceCommercialRecord, 0.8, base),
		})
		got, ok := avgText.Resolve(facts, "consignee")
		if !ok {
			t.Fatal("expected a consensus field")
		}
		if got.Resolved || !got.Conflict {
			t.Fatalf("expected unresolved conflict: %+v", got)
		}
		// The highest-confidence candidate stands in as the provisional
		// value even though the conflict is unresolved.
		if got.Value.Text != "Alpine Trading" || got.Confidence != 0.9 || got.WinnerFactID != "f1" {
			t.Errorf("provisional value = %q (%f, %s), want Alpine Trading from f1 at 0.9",
				got.Value.Text, got.Confidence, got.WinnerFactID)
		}
		if len(got.Losing) != 2 {
			t.Errorf("unresolved conflict must record all candidates: %+v", got.Losing)
		}
	})
}

func TestResolveSourcePriority(t *testing.T) {
	r := mustResolver(t, Config{
		DefaultNumeric: StrategyHighestConfidence,
		Fields:         map[string]Strategy{"country_of_origin": StrategySourcePriority},
	})

	t.Run("category rank beats confidence", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "country_of_origin", evidence.String("Germany"), evidence.SourceOfficialDocument, 0.7, base),
			fact("f2", "country_of_origin", evidence.String("Netherlands"), evidence.SourceWitnessStatement, 0.99, base),
		})
		got, _ := r.Resolve(facts, "country_of_origin")
		if got.WinnerFactID != "f1" {
			t.Errorf("winner = %s, want the official document f1", got.WinnerFactID)
		}
	})

	t.Run("confidence breaks ties within a category", func(t *testing.T) {
		facts := mustFacts(t, []evidence.Fact{
			fact("f1", "country_of_origin", evidence.String("Germany"), evidence.SourceCommercialRecord, 0.7, base),
			fact("f2", "country_of_origin", evidence.String("Netherlands"), evidence.SourceCommercialRecord, 0.9, base),
		})
		got, _ := r.Resolve(facts, "country_of_origin")
		if got.WinnerFactID != "f2" {
			t.Errorf("winner = %s, want the more confident f2", got.WinnerFactID)
		}
	})
}

// pickFirst is a trivial arbitrator for the escape-hatch test.
type pickFirst struct{}

func (pickFirst) Arbitrate(_ string, candidates []Candidate) (Candidate, bool) {
	return candidates[0], true
}

func TestResolveArbitrator(t *testing.T) {
	cfg := Config{
		DefaultNumeric: StrategyWeightedAverage,
		Fields:         map[string]Strategy{"consignee": StrategyWeightedAverage},
	}
	r, err := NewResolver(cfg, nil, pickFirst{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	facts := mustFacts(t, []evidence.Fact{
		fact("f1", "consignee", evidence.String("Alpine Trading"), evidence.SourceOfficialDocument, 0.9, base),
		fact("f2", "consignee", evidence.String("Nordsee Imports"), evidence.SourceCommercialRecord, 0.8, base),
	})
	got, _ := r.Resolve(facts, "consignee")
	if !got.Resolved || got.WinnerFactID != "f1" {
		t.Errorf("arbitrator must resolve the conflict: %+v", got)
	}
}
