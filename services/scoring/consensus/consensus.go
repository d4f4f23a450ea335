// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package consensus assembles the per-case consensus record: one fused
// value per observed field, plus the gaps and unresolved conflicts a
// reviewer needs to see.
package consensus

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/titanxw-wq/Customs/services/scoring/evidence"
	"github.com/titanxw-wq/Customs/services/scoring/fusion"
)

// Record is the consensus outcome for one case and run.
type Record struct {
	CaseID string `json:"case_id"`

	// RunID ties the record to the scoring run that produced it.
	RunID string `json:"run_id"`

	// CreatedAt is when the record was assembled.
	CreatedAt time.Time `json:"created_at"`

	// Fields holds the per-field consensus outcomes, sorted by name.
	Fields []fusion.Field `json:"fields"`

	// MissingFields lists required fields with no observations at all.
	MissingFields []string `json:"missing_fields,omitempty"`

	// UnresolvedConflicts lists fields whose conflict could not be
	// resolved and need manual review.
	UnresolvedConflicts []string `json:"unresolved_conflicts,omitempty"`
}

// Field returns the consensus outcome for a field, if present.
func (r *Record) Field(name string) (fusion.Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return fusion.Field{}, false
}

// NeedsReview reports whether the record has gaps or unresolved
// conflicts a human must look at.
func (r *Record) NeedsReview() bool {
	return len(r.MissingFields) > 0 || len(r.UnresolvedConflicts) > 0
}

// Builder assembles consensus records by fusing every observed field.
//
// Thread Safety: safe for concurrent use.
type Builder struct {
	resolver *fusion.Resolver

	// required lists fields that must be present; absent ones are
	// reported in MissingFields rather than silently omitted.
	required []string

	now func() time.Time
}

// NewBuilder creates a builder over a resolver. requiredFields may be
// empty when no field is mandatory.
func NewBuilder(resolver *fusion.Resolver, requiredFields []string) *Builder {
	return &Builder{
		resolver: resolver,
		required: append([]string(nil), requiredFields...),
		now:      time.Now,
	}
}

// Build fuses every field observed for the case, in parallel, and
// assembles the record. Fields resolve independently, so one field's
// conflict never blocks another's consensus.
func (b *Builder) Build(ctx context.Context, runID string, facts *evidence.FactSet) (*Record, error) {
	fields := facts.Fields()
	resolved := make([]fusion.Field, len(fields))

	g, _ := errgroup.WithContext(ctx)
	for i, name := range fields {
		i, name := i, name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, ok := b.resolver.Resolve(facts, name)
			if ok {
				resolved[i] = f
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	record := &Record{
		CaseID:    facts.CaseID(),
		RunID:     runID,
		CreatedAt: b.now(),
	}

	for _, f := range resolved {
		if f.Name == "" {
			continue
		}
		record.Fields = append(record.Fields, f)
		if f.Conflict && !f.Resolved {
			record.UnresolvedConflicts = append(record.UnresolvedConflicts, f.Name)
		}
	}
	sort.Slice(record.Fields, func(i, j int) bool {
		return record.Fields[i].Name < record.Fields[j].Name
	})
	sort.Strings(record.UnresolvedConflicts)

	for _, name := range b.required {
		if _, ok := record.Field(name); !ok {
			record.MissingFields = append(record.MissingFields, name)
		}
	}
	sort.Strings(record.MissingFields)

	return record, nil
}
