// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package evidence defines the typed fact contract consumed by the
// scoring engine, together with source reliability and time-decay
// weighting.
//
// Facts are append-only: the engine never mutates or deletes them.
// Everything upstream (extraction, entity resolution) is an external
// collaborator that emits Facts; everything in this package treats
// them as immutable values.
package evidence

import (
	"fmt"
	"time"
)

// SourceType is the fixed category of an evidence source.
type SourceType string

const (
	SourceOfficialDocument SourceType = "official_document"
	SourceCommercialRecord SourceType = "commercial_record"
	SourceDigitalTrace     SourceType = "digital_trace"
	SourceWitnessStatement SourceType = "witness_statement"
	SourceCircumstantial   SourceType = "circumstantial"
	SourceManualEntry      SourceType = "manual_entry"
	SourceSensor           SourceType = "sensor"
)

// SourceTypes lists all known source categories.
var SourceTypes = []SourceType{
	SourceOfficialDocument,
	SourceCommercialRecord,
	SourceDigitalTrace,
	SourceWitnessStatement,
	SourceCircumstantial,
	SourceManualEntry,
	SourceSensor,
}

// Valid reports whether t is a known source category.
func (t SourceType) Valid() bool {
	for _, known := range SourceTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ValueKind discriminates the typed union held by a Value.
type ValueKind string

const (
	KindNumber  ValueKind = "number"
	KindString  ValueKind = "string"
	KindDate    ValueKind = "date"
	KindBoolean ValueKind = "boolean"
)

// Value is the typed union a Fact carries: number, string, date, or
// boolean. Exactly one payload field is meaningful, selected by Kind.
type Value struct {
	Kind   ValueKind `json:"kind" yaml:"kind"`
	Number float64   `json:"number,omitempty" yaml:"number,omitempty"`
	Text   string    `json:"text,omitempty" yaml:"text,omitempty"`
	Date   time.Time `json:"date,omitempty" yaml:"date,omitempty"`
	Bool   bool      `json:"bool,omitempty" yaml:"bool,omitempty"`
}

// Number returns a numeric Value.
func Number(v float64) Value { return Value{Kind: KindNumber, Number: v} }

// String returns a string Value.
func String(s string) Value { return Value{Kind: KindString, Text: s} }

// Date returns a date Value.
func Date(t time.Time) Value { return Value{Kind: KindDate, Date: t} }

// Boolean returns a boolean Value.
func Boolean(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// Equal reports exact equality of two values. Values of different
// kinds are never equal. Dates compare by instant, not location.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Number == other.Number
	case KindString:
		return v.Text == other.Text
	case KindDate:
		return v.Date.Equal(other.Date)
	case KindBoolean:
		return v.Bool == other.Bool
	default:
		return false
	}
}

// Display renders the payload for audit records and logs.
func (v Value) Display() string {
	switch v.Kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.Number)
	case KindString:
		return v.Text
	case KindDate:
		return v.Date.Format(time.RFC3339)
	case KindBoolean:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return ""
	}
}

// Fact is one source-attributed, confidence-scored observation of a
// field's value for a case. Immutable once recorded; many Facts may
// share a FieldName for one case.
type Fact struct {
	// ID uniquely identifies the fact within its case.
	ID string `json:"id" yaml:"id"`

	// CaseID is the case this fact belongs to.
	CaseID string `json:"case_id" yaml:"case_id"`

	// FieldName is the evidentiary field this fact observes.
	FieldName string `json:"field_name" yaml:"field_name"`

	// Value is the observed value.
	Value Value `json:"value" yaml:"value"`

	// SourceID identifies the concrete source (document id, device id).
	SourceID string `json:"source_id" yaml:"source_id"`

	// SourceType is the fixed category of the source.
	SourceType SourceType `json:"source_type" yaml:"source_type"`

	// Confidence is the upstream extractor's confidence in [0,1].
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// Timestamp is when the underlying evidence was produced.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// ExtractionMethod records how the fact was extracted (ocr,
	// speech_to_text, manual, parser).
	ExtractionMethod string `json:"extraction_method" yaml:"extraction_method"`
}

// FactSet is a read-only view over all facts recorded for one case,
// indexed by field name. Construct with NewFactSet; never mutated
// afterwards, safe for concurrent reads.
type FactSet struct {
	caseID  string
	byField map[string][]Fact
	byID    map[string]Fact
	fields  []string
}

// NewFactSet indexes facts for a single case. Facts whose CaseID does
// not match caseID are rejected so cross-case contamination fails loud
// rather than skewing a score.
func NewFactSet(caseID string, facts []Fact) (*FactSet, error) {
	fs := &FactSet{
		caseID:  caseID,
		byField: make(map[string][]Fact),
		byID:    make(map[string]Fact, len(facts)),
	}
	for _, f := range facts {
		if f.CaseID != caseID {
			return nil, fmt.Errorf("fact %s belongs to case %q, not %q", f.ID, f.CaseID, caseID)
		}
		if f.ID == "" {
			return nil, fmt.Errorf("fact for field %q has no id", f.FieldName)
		}
		if _, dup := fs.byID[f.ID]; dup {
			return nil, fmt.Errorf("duplicate fact id %s", f.ID)
		}
		if !f.SourceType.Valid() {
			return nil, fmt.Errorf("fact %s has unknown source type %q", f.ID, f.SourceType)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return nil, fmt.Errorf("fact %s confidence %f outside [0,1]", f.ID, f.Confidence)
		}
		if _, seen := fs.byField[f.FieldName]; !seen {
			fs.fields = append(fs.fields, f.FieldName)
		}
		fs.byField[f.FieldName] = append(fs.byField[f.FieldName], f)
		fs.byID[f.ID] = f
	}
	return fs, nil
}

// CaseID returns the case these facts belong to.
func (fs *FactSet) CaseID() string { return fs.caseID }

// Field returns all facts recorded for a field, in insertion order.
// The returned slice must not be modified.
func (fs *FactSet) Field(name string) []Fact {
	return fs.byField[name]
}

// ByID looks up a fact by its id.
func (fs *FactSet) ByID(id string) (Fact, bool) {
	f, ok := fs.byID[id]
	return f, ok
}

// Fields returns the distinct field names present, in first-seen order.
func (fs *FactSet) Fields() []string {
	out := make([]string, len(fs.fields))
	copy(out, fs.fields)
	return out
}

// Len returns the total number of facts.
func (fs *FactSet) Len() int { return len(fs.byID) }

// Numbers returns the numeric values recorded for a field, with their
// owning facts, skipping non-numeric observations.
func (fs *FactSet) Numbers(field string) ([]float64, []Fact) {
	var values []float64
	var owners []Fact
	for _, f := range fs.byField[field] {
		if f.Value.Kind == KindNumber {
			values = append(values, f.Value.Number)
			owners = append(owners, f)
		}
	}
	return values, owners
}

// Dates returns the date values recorded for a field, with their
// owning facts, skipping non-date observations.
func (fs *FactSet) Dates(field string) ([]time.Time, []Fact) {
	var values []time.Time
	var owners []Fact
	for _, f := range fs.byField[field] {
		if f.Value.Kind == KindDate {
			values = append(values, f.Value.Date)
			owners = append(owners, f)
		}
	}
	return values, owners
}
