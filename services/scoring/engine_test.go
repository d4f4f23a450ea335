// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scoring

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/titanxw-wq/Customs/services/scoring/aggregate"
	"github.com/titanxw-wq/Customs/services/scoring/catalog"
	"github.com/titanxw-wq/Customs/services/scoring/consensus"
	"github.com/titanxw-wq/Customs/services/scoring/evidence"
	"github.com/titanxw-wq/Customs/services/scoring/fusion"
	"github.com/titanxw-wq/Customs/services/scoring/rules"
	"github.com/titanxw-wq/Customs/services/scoring/store"
)

const engineCatalog = `
version: "2026.1"
rules:
  - id: declaration-timing
    kind: time_window
    tier: high
    base_weight: 0.8
    params:
      field: declaration_date
      reference_fields: [shipping_date]
      tolerance_seconds: 259200
  - id: invoice-identity
    kind: identity_match
    tier: critical
    base_weight: 1.0
    params:
      field: invoice_number
      reference_fields: [manifest_invoice_number]
  - id: value-check
    kind: amount_validator
    tier: critical
    base_weight: 1.0
    veto_enabled: true
    veto_threshold: 0.5
    depends_on: [invoice-identity]
    params:
      field: declared_value
      reference_fields: [invoice_total]
      tolerance_percent: 0.05
  - id: origin-consistency
    kind: cross_source_consistency
    tier: medium
    base_weight: 0.6
    params:
      field: country_of_origin
  - id: retired-check
    kind: anomaly
    tier: low
    base_weight: 0.2
    enabled: false
    params:
      field: unit_price
`

func testEngine(t *testing.T, st *store.Store) *Engine {
	t.Helper()

	cat, err := catalog.Parse([]byte(engineCatalog))
	if err != nil {
		t.Fatalf("Parse catalog: %v", err)
	}

	agg, err := aggregate.New(aggregate.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("aggregate.New: %v", err)
	}

	resolver, err := fusion.NewResolver(fusion.Config{
		DefaultNumeric: fusion.StrategyHighestConfidence,
	}, nil, nil)
	if err != nil {
		t.Fatalf("fusion.NewResolver: %v", err)
	}

	eng, err := New(Options{
		Catalog:    cat,
		Registry:   rules.NewRegistry(rules.Deps{}),
		Aggregator: agg,
		Consensus:  consensus.NewBuilder(resolver, []string{"declared_value", "weight_kg"}),
		Store:      st,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func testFacts(t *testing.T) *evidence.FactSet {
	t.Helper()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	mk := func(id, field string, v evidence.Value, st evidence.SourceType, conf float64) evidence.Fact {
		return evidence.Fact{
			ID: id, CaseID: "case-17", FieldName: field, Value: v,
			SourceID: "src-" + id, SourceType: st, Confidence: conf, Timestamp: base,
		}
	}
	fs, err := evidence.NewFactSet("case-17", []evidence.Fact{
		mk("d1", "declaration_date", evidence.Date(base), evidence.SourceOfficialDocument, 0.95),
		mk("s1", "shipping_date", evidence.Date(base.Add(4*time.Hour)), evidence.SourceCommercialRecord, 0.9),
		mk("i1", "invoice_number", evidence.String("INV-2026-0441"), evidence.SourceOfficialDocument, 0.95),
		mk("m1", "manifest_invoice_number", evidence.String("INV-2026-0441"), evidence.SourceCommercialRecord, 0.85),
		mk("v1", "declared_value", evidence.Number(5500), evidence.SourceOfficialDocument, 0.95),
		mk("t1", "invoice_total", evidence.Number(5500), evidence.SourceCommercialRecord, 0.9),
		mk("o1", "country_of_origin", evidence.String("Germany"), evidence.SourceOfficialDocument, 0.9),
		mk("o2", "country_of_origin", evidence.String("Germany"), evidence.SourceDigitalTrace, 0.7),
	})
	if err != nil {
		t.Fatalf("NewFactSet: %v", err)
	}
	return fs
}

func TestEngineScore(t *testing.T) {
	st, err := store.Open(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	eng := testEngine(t, st)
	run, err := eng.Score(context.Background(), testFacts(t))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}

	t.Run("run identity", func(t *testing.T) {
		if run.CaseID != "case-17" {
			t.Errorf("case id = %s", run.CaseID)
		}
		if len(run.RunID) != 12 {
			t.Errorf("run id = %q, want 12 characters", run.RunID)
		}
	})

	t.Run("all rules reach a terminal status in catalog order", func(t *testing.T) {
		if len(run.Results) != 5 {
			t.Fatalf("results = %d, want 5", len(run.Results))
		}
		wantOrder := []string{"declaration-timing", "invoice-identity", "value-check", "origin-consistency", "retired-check"}
		for i, id := range wantOrder {
			if run.Results[i].RuleID != id {
				t.Errorf("results[%d] = %s, want %s", i, run.Results[i].RuleID, id)
			}
			if !run.Results[i].Terminal() {
				t.Errorf("rule %s not terminal: %+v", id, run.Results[i])
			}
		}
	})

	t.Run("disabled rule never executes", func(t *testing.T) {
		var retired rules.Result
		for _, r := range run.Results {
			if r.RuleID == "retired-check" {
				retired = r
			}
		}
		if retired.Status != rules.StatusSkipped || retired.Reason != "rule disabled in catalog" {
			t.Errorf("retired-check = %+v", retired)
		}
	})

	t.Run("score reflects consistent evidence", func(t *testing.T) {
		if run.Score.Vetoed {
			t.Fatalf("unexpected veto: %+v", run.Score)
		}
		if run.Score.Final < 0.9 {
			t.Errorf("final = %f, want high score for consistent case", run.Score.Final)
		}
		if run.Score.Risk != aggregate.RiskLow {
			t.Errorf("risk = %s", run.Score.Risk)
		}
	})

	t.Run("consensus record covers observed fields", func(t *testing.T) {
		if run.Consensus.RunID != run.RunID {
			t.Errorf("consensus run id = %s", run.Consensus.RunID)
		}
		if _, ok := run.Consensus.Field("country_of_origin"); !ok {
			t.Error("country_of_origin missing from consensus")
		}
		if len(run.Consensus.MissingFields) != 1 || run.Consensus.MissingFields[0] != "weight_kg" {
			t.Errorf("missing fields = %v", run.Consensus.MissingFields)
		}
	})

	t.Run("attention feed surfaces skips and gaps", func(t *testing.T) {
		kinds := map[AttentionKind]int{}
		for _, item := range run.Attention {
			kinds[item.Kind]++
		}
		if kinds[AttentionRuleSkipped] != 1 {
			t.Errorf("skipped items = %d, want 1 (disabled rule)", kinds[AttentionRuleSkipped])
		}
		if kinds[AttentionMissingField] != 1 {
			t.Errorf("missing field items = %d, want 1", kinds[AttentionMissingField])
		}
	})

	t.Run("audit trail is persisted", func(t *testing.T) {
		latest, err := st.LatestScore(context.Background(), "case-17")
		if err != nil {
			t.Fatalf("LatestScore: %v", err)
		}
		if latest.RunID != run.RunID {
			t.Errorf("persisted run = %s, want %s", latest.RunID, run.RunID)
		}
		rec, err := st.LatestConsensus(context.Background(), "case-17")
		if err != nil {
			t.Fatalf("LatestConsensus: %v", err)
		}
		if rec.RunID != run.RunID {
			t.Errorf("persisted consensus run = %s", rec.RunID)
		}
	})
}

func TestEngineVetoRun(t *testing.T) {
	eng := testEngine(t, nil)

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	mk := func(id, field string, v evidence.Value, conf float64) evidence.Fact {
		return evidence.Fact{
			ID: id, CaseID: "case-18", FieldName: field, Value: v,
			SourceID: "src-" + id, SourceType: evidence.SourceOfficialDocument,
			Confidence: conf, Timestamp: base,
		}
	}
	// Declared value wildly below the invoice: the veto rule fires.
	facts, err := evidence.NewFactSet("case-18", []evidence.Fact{
		mk("v1", "declared_value", evidence.Number(1000), 0.95),
		mk("t1", "invoice_total", evidence.Number(5500), 0.9),
		mk("i1", "invoice_number", evidence.String("INV-2026-0441"), 0.95),
		mk("m1", "manifest_invoice_number", evidence.String("INV-2026-0441"), 0.85),
	})
	if err != nil {
		t.Fatalf("NewFactSet: %v", err)
	}

	run, err := eng.Score(context.Background(), facts)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !run.Score.Vetoed || run.Score.Final != 0 {
		t.Fatalf("expected veto, got %+v", run.Score)
	}
	if run.Score.Risk != aggregate.RiskCritical {
		t.Errorf("risk = %s, want critical", run.Score.Risk)
	}

	found := false
	for _, item := range run.Attention {
		if item.Kind == AttentionVeto && item.RuleID == "value-check" {
			found = true
		}
	}
	if !found {
		t.Errorf("veto missing from attention feed: %+v", run.Attention)
	}
}

func TestEngineCancellation(t *testing.T) {
	eng := testEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.Score(ctx, testFacts(t)); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestEngineRequiresComponents(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for missing components")
	}
}
