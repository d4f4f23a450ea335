// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ReliabilityEntry is one row of the source reliability table.
type ReliabilityEntry struct {
	// Reliability is the base reliability weight in [0,1].
	Reliability float64 `yaml:"reliability" json:"reliability"`

	// VerificationLevel records how the entry was established
	// (e.g. "audited", "declared", "unverified").
	VerificationLevel string `yaml:"verification_level" json:"verification_level,omitempty"`
}

// ReliabilityTable maps source types, and optionally individual source
// ids, to reliability weights. Immutable after construction; safe for
// concurrent reads. Replace the whole table to update it.
type ReliabilityTable struct {
	// SourceTypes holds the per-category base reliability.
	SourceTypes map[SourceType]ReliabilityEntry `yaml:"source_types"`

	// SourceIDs holds per-source overrides that take precedence over
	// the category entry.
	SourceIDs map[string]ReliabilityEntry `yaml:"source_ids"`

	// Default applies when neither a source id nor a category entry
	// exists. Zero means use the package default (0.5).
	Default float64 `yaml:"default"`
}

// defaultReliability is used for sources absent from the table, so an
// unknown source is neither trusted nor discarded.
const defaultReliability = 0.5

// DefaultReliabilityTable returns the built-in category weights,
// ordered by the trust hierarchy of the source categories.
func DefaultReliabilityTable() *ReliabilityTable {
	return &ReliabilityTable{
		SourceTypes: map[SourceType]ReliabilityEntry{
			SourceOfficialDocument: {Reliability: 1.0, VerificationLevel: "audited"},
			SourceCommercialRecord: {Reliability: 0.9, VerificationLevel: "declared"},
			SourceSensor:           {Reliability: 0.9, VerificationLevel: "calibrated"},
			SourceManualEntry:      {Reliability: 0.85, VerificationLevel: "declared"},
			SourceDigitalTrace:     {Reliability: 0.8, VerificationLevel: "unverified"},
			SourceWitnessStatement: {Reliability: 0.7, VerificationLevel: "unverified"},
			SourceCircumstantial:   {Reliability: 0.6, VerificationLevel: "unverified"},
		},
		Default: defaultReliability,
	}
}

// Reliability resolves the weight for a source. Per-source overrides
// win over category entries; unknown sources get the table default.
func (t *ReliabilityTable) Reliability(sourceType SourceType, sourceID string) float64 {
	if t == nil {
		return defaultReliability
	}
	if sourceID != "" {
		if e, ok := t.SourceIDs[sourceID]; ok {
			return e.Reliability
		}
	}
	if e, ok := t.SourceTypes[sourceType]; ok {
		return e.Reliability
	}
	if t.Default > 0 {
		return t.Default
	}
	return defaultReliability
}

// validate checks every entry is in [0,1].
func (t *ReliabilityTable) validate() error {
	for st, e := range t.SourceTypes {
		if !st.Valid() {
			return fmt.Errorf("reliability table: unknown source type %q", st)
		}
		if e.Reliability < 0 || e.Reliability > 1 {
			return fmt.Errorf("reliability table: source type %q weight %f outside [0,1]", st, e.Reliability)
		}
	}
	for id, e := range t.SourceIDs {
		if e.Reliability < 0 || e.Reliability > 1 {
			return fmt.Errorf("reliability table: source id %q weight %f outside [0,1]", id, e.Reliability)
		}
	}
	if t.Default < 0 || t.Default > 1 {
		return fmt.Errorf("reliability table: default weight %f outside [0,1]", t.Default)
	}
	return nil
}

// LoadReliabilityTable reads a reliability table from a YAML file.
func LoadReliabilityTable(path string) (*ReliabilityTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reliability table: %w", err)
	}
	var table ReliabilityTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse reliability table: %w", err)
	}
	if err := table.validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// ReliabilityProvider yields the current reliability table snapshot.
// Both the static table and the file watcher satisfy it.
type ReliabilityProvider interface {
	Snapshot() *ReliabilityTable
}

// Snapshot returns the table itself; a plain table is its own
// (permanent) snapshot.
func (t *ReliabilityTable) Snapshot() *ReliabilityTable { return t }

// ReliabilityWatcher serves reliability snapshots from a YAML file and
// refreshes them out-of-band when the file changes.
//
// Refresh is a configuration-management concern: a scoring run reads
// one snapshot up front and is never affected by a swap mid-run.
//
// Thread Safety: safe for concurrent use; Snapshot is lock-free.
type ReliabilityWatcher struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[ReliabilityTable]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewReliabilityWatcher loads the table at path and starts watching
// the containing directory for changes. Call Close to stop watching.
func NewReliabilityWatcher(path string, logger *slog.Logger) (*ReliabilityWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	table, err := LoadReliabilityTable(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory: editors and config pushes replace the file,
	// which drops a watch registered on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch reliability table dir: %w", err)
	}

	w := &ReliabilityWatcher{
		path:    path,
		logger:  logger,
		watcher: fw,
		done:    make(chan struct{}),
	}
	w.current.Store(table)

	go w.run()
	return w, nil
}

// Snapshot returns the current table. The returned value is immutable.
func (w *ReliabilityWatcher) Snapshot() *ReliabilityTable {
	return w.current.Load()
}

// Close stops the watcher.
func (w *ReliabilityWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *ReliabilityWatcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("reliability table watch error", "error", err.Error())
		}
	}
}

// reload swaps in the new table, keeping the previous snapshot when
// the file is malformed so a bad push cannot take scoring down.
func (w *ReliabilityWatcher) reload() {
	table, err := LoadReliabilityTable(w.path)
	if err != nil {
		w.logger.Error("reliability table reload failed, keeping previous snapshot",
			"path", w.path,
			"error", err.Error(),
		)
		return
	}
	w.current.Store(table)
	w.logger.Info("reliability table reloaded",
		"path", w.path,
		"source_types", len(table.SourceTypes),
		"source_ids", len(table.SourceIDs),
	)
}

// ensure both providers satisfy the interface
var (
	_ ReliabilityProvider = (*ReliabilityTable)(nil)
	_ ReliabilityProvider = (*ReliabilityWatcher)(nil)
)

// WaitForReload is a test hook: it polls until the snapshot pointer
// changes or ctx is done, returning the new snapshot.
func (w *ReliabilityWatcher) WaitForReload(ctx context.Context, prev *ReliabilityTable) (*ReliabilityTable, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cur := w.current.Load(); cur != prev {
			return cur, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
