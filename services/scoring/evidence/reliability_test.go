// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evidence

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const tableV1 = `
source_types:
  official_document:
    reliability: 1.0
    verification_level: audited
  digital_trace:
    reliability: 0.7
default: 0.5
`

const tableV2 = `
source_types:
  official_document:
    reliability: 1.0
  digital_trace:
    reliability: 0.4
source_ids:
  chat-export-9:
    reliability: 0.1
default: 0.5
`

func writeTable(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "reliability.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing table: %v", err)
	}
	return path
}

func TestLoadReliabilityTable(t *testing.T) {
	t.Run("loads valid table", func(t *testing.T) {
		path := writeTable(t, t.TempDir(), tableV1)
		table, err := LoadReliabilityTable(path)
		if err != nil {
			t.Fatalf("LoadReliabilityTable: %v", err)
		}
		if got := table.Reliability(SourceDigitalTrace, ""); got != 0.7 {
			t.Errorf("digital_trace = %f, want 0.7", got)
		}
	})

	t.Run("rejects out-of-range weight", func(t *testing.T) {
		path := writeTable(t, t.TempDir(), "source_types:\n  sensor:\n    reliability: 1.4\n")
		if _, err := LoadReliabilityTable(path); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("rejects unknown source type", func(t *testing.T) {
		path := writeTable(t, t.TempDir(), "source_types:\n  hearsay:\n    reliability: 0.4\n")
		if _, err := LoadReliabilityTable(path); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadReliabilityTable(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestReliabilityWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := writeTable(t, dir, tableV1)

	w, err := NewReliabilityWatcher(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewReliabilityWatcher: %v", err)
	}
	defer w.Close()

	before := w.Snapshot()
	if got := before.Reliability(SourceDigitalTrace, ""); got != 0.7 {
		t.Fatalf("initial digital_trace = %f, want 0.7", got)
	}

	writeTable(t, dir, tableV2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	after, err := w.WaitForReload(ctx, before)
	if err != nil {
		t.Fatalf("waiting for reload: %v", err)
	}

	if got := after.Reliability(SourceDigitalTrace, ""); got != 0.4 {
		t.Errorf("reloaded digital_trace = %f, want 0.4", got)
	}
	if got := after.Reliability(SourceDigitalTrace, "chat-export-9"); got != 0.1 {
		t.Errorf("source id override = %f, want 0.1", got)
	}
}

func TestReliabilityWatcherKeepsSnapshotOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := writeTable(t, dir, tableV1)

	w, err := NewReliabilityWatcher(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewReliabilityWatcher: %v", err)
	}
	defer w.Close()

	before := w.Snapshot()

	// Malformed replacement must not clobber the working snapshot.
	writeTable(t, dir, "source_types: [not, a, map]")

	// Give the watcher a moment to observe and reject the write.
	time.Sleep(200 * time.Millisecond)

	after := w.Snapshot()
	if got := after.Reliability(SourceDigitalTrace, ""); got != 0.7 {
		t.Errorf("snapshot changed after bad reload: digital_trace = %f, want 0.7", got)
	}
	_ = before
}
