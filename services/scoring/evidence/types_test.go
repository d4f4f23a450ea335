// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"testing"
	"time"
)

func TestValueEqual(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"equal numbers", Number(5800), Number(5800), true},
		{"different numbers", Number(5800), Number(5600), false},
		{"equal strings", String("ORD-001"), String("ORD-001"), true},
		{"equal dates different zones", Date(ts), Date(ts.In(time.FixedZone("X", 3600))), true},
		{"kind mismatch", Number(1), String("1"), false},
		{"booleans", Boolean(true), Boolean(true), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.want {
				t.Errorf("Equal = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewFactSet(t *testing.T) {
	ts := time.Now()

	valid := []Fact{
		{ID: "f1", CaseID: "CASE-1", FieldName: "transaction_amount", Value: Number(5800),
			SourceID: "inv-1", SourceType: SourceOfficialDocument, Confidence: 0.95, Timestamp: ts},
		{ID: "f2", CaseID: "CASE-1", FieldName: "transaction_amount", Value: Number(5600),
			SourceID: "chat-1", SourceType: SourceDigitalTrace, Confidence: 0.9, Timestamp: ts},
		{ID: "f3", CaseID: "CASE-1", FieldName: "consignee", Value: String("Acme Ltd"),
			SourceID: "inv-1", SourceType: SourceOfficialDocument, Confidence: 0.99, Timestamp: ts},
	}

	t.Run("indexes by field and id", func(t *testing.T) {
		fs, err := NewFactSet("CASE-1", valid)
		if err != nil {
			t.Fatalf("NewFactSet: %v", err)
		}
		if fs.Len() != 3 {
			t.Errorf("Len = %d, want 3", fs.Len())
		}
		if got := len(fs.Field("transaction_amount")); got != 2 {
			t.Errorf("amount facts = %d, want 2", got)
		}
		if _, ok := fs.ByID("f3"); !ok {
			t.Error("fact f3 not found by id")
		}
		if got := fs.Fields(); len(got) != 2 || got[0] != "transaction_amount" {
			t.Errorf("Fields = %v", got)
		}
	})

	t.Run("rejects cross-case fact", func(t *testing.T) {
		facts := append([]Fact{}, valid...)
		facts[0].CaseID = "CASE-2"
		if _, err := NewFactSet("CASE-1", facts); err == nil {
			t.Fatal("expected error for cross-case fact")
		}
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		facts := append([]Fact{}, valid...)
		facts[1].ID = "f1"
		if _, err := NewFactSet("CASE-1", facts); err == nil {
			t.Fatal("expected error for duplicate id")
		}
	})

	t.Run("rejects confidence outside range", func(t *testing.T) {
		facts := append([]Fact{}, valid...)
		facts[0].Confidence = 1.2
		if _, err := NewFactSet("CASE-1", facts); err == nil {
			t.Fatal("expected error for out-of-range confidence")
		}
	})

	t.Run("rejects unknown source type", func(t *testing.T) {
		facts := append([]Fact{}, valid...)
		facts[0].SourceType = "rumor"
		if _, err := NewFactSet("CASE-1", facts); err == nil {
			t.Fatal("expected error for unknown source type")
		}
	})
}

func TestFactSetTypedAccessors(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	fs, err := NewFactSet("CASE-1", []Fact{
		{ID: "f1", CaseID: "CASE-1", FieldName: "amount", Value: Number(100),
			SourceID: "s1", SourceType: SourceCommercialRecord, Confidence: 0.9, Timestamp: ts},
		{ID: "f2", CaseID: "CASE-1", FieldName: "amount", Value: String("one hundred"),
			SourceID: "s2", SourceType: SourceWitnessStatement, Confidence: 0.4, Timestamp: ts},
		{ID: "f3", CaseID: "CASE-1", FieldName: "payment_time", Value: Date(ts),
			SourceID: "s1", SourceType: SourceCommercialRecord, Confidence: 0.9, Timestamp: ts},
	})
	if err != nil {
		t.Fatalf("NewFactSet: %v", err)
	}

	nums, owners := fs.Numbers("amount")
	if len(nums) != 1 || nums[0] != 100 {
		t.Errorf("Numbers = %v", nums)
	}
	if len(owners) != 1 || owners[0].ID != "f1" {
		t.Errorf("owners = %v", owners)
	}

	dates, _ := fs.Dates("payment_time")
	if len(dates) != 1 || !dates[0].Equal(ts) {
		t.Errorf("Dates = %v", dates)
	}
}

func TestReliabilityTable(t *testing.T) {
	table := DefaultReliabilityTable()

	t.Run("official documents most reliable", func(t *testing.T) {
		if got := table.Reliability(SourceOfficialDocument, ""); got != 1.0 {
			t.Errorf("expected 1.0, got %f", got)
		}
	})

	t.Run("source id override wins", func(t *testing.T) {
		table := DefaultReliabilityTable()
		table.SourceIDs = map[string]ReliabilityEntry{
			"flaky-scanner-7": {Reliability: 0.2, VerificationLevel: "quarantined"},
		}
		if got := table.Reliability(SourceSensor, "flaky-scanner-7"); got != 0.2 {
			t.Errorf("expected override 0.2, got %f", got)
		}
		if got := table.Reliability(SourceSensor, "scanner-1"); got != 0.9 {
			t.Errorf("expected category 0.9, got %f", got)
		}
	})

	t.Run("unknown source gets default", func(t *testing.T) {
		empty := &ReliabilityTable{}
		if got := empty.Reliability(SourceDigitalTrace, ""); got != 0.5 {
			t.Errorf("expected default 0.5, got %f", got)
		}
	})

	t.Run("nil table gets default", func(t *testing.T) {
		var table *ReliabilityTable
		if got := table.Reliability(SourceDigitalTrace, ""); got != 0.5 {
			t.Errorf("expected default 0.5, got %f", got)
		}
	})
}
