// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/titanxw-wq/Customs/services/scoring/aggregate"
	"github.com/titanxw-wq/Customs/services/scoring/consensus"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestScoreHistoryAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Pin the clock so append order is deterministic.
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	scores := []*aggregate.Score{
		{CaseID: "case-1", Final: 0.9, Risk: aggregate.RiskLow},
		{CaseID: "case-1", Final: 0.4, Risk: aggregate.RiskHigh},
		{CaseID: "case-1", Final: 0.6, Risk: aggregate.RiskMedium},
	}
	for i, sc := range scores {
		runID := []string{"run-a", "run-b", "run-c"}[i]
		if err := s.AppendScore(ctx, runID, sc); err != nil {
			t.Fatalf("AppendScore %d: %v", i, err)
		}
	}

	t.Run("history preserves append order", func(t *testing.T) {
		history, err := s.ScoreHistory(ctx, "case-1")
		if err != nil {
			t.Fatalf("ScoreHistory: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("history length = %d, want 3", len(history))
		}
		for i, want := range []string{"run-a", "run-b", "run-c"} {
			if history[i].RunID != want {
				t.Errorf("history[%d].RunID = %s, want %s", i, history[i].RunID, want)
			}
		}
		if history[1].Score.Final != 0.4 {
			t.Errorf("history[1].Final = %f", history[1].Score.Final)
		}
	})

	t.Run("latest returns the last append", func(t *testing.T) {
		latest, err := s.LatestScore(ctx, "case-1")
		if err != nil {
			t.Fatalf("LatestScore: %v", err)
		}
		if latest.RunID != "run-c" || latest.Score.Final != 0.6 {
			t.Errorf("latest = %s/%f", latest.RunID, latest.Score.Final)
		}
	})

	t.Run("cases are isolated", func(t *testing.T) {
		history, err := s.ScoreHistory(ctx, "case-2")
		if err != nil {
			t.Fatalf("ScoreHistory: %v", err)
		}
		if len(history) != 0 {
			t.Errorf("unexpected history: %+v", history)
		}
		if _, err := s.LatestScore(ctx, "case-2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestConsensusHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	records := []*consensus.Record{
		{CaseID: "case-9", RunID: "run-1"},
		{CaseID: "case-9", RunID: "run-2", UnresolvedConflicts: []string{"consignee"}},
	}
	for _, r := range records {
		require.NoError(t, s.AppendConsensus(ctx, r))
	}

	latest, err := s.LatestConsensus(ctx, "case-9")
	require.NoError(t, err)
	require.Equal(t, "run-2", latest.RunID)
	require.Equal(t, []string{"consignee"}, latest.Record.UnresolvedConflicts)

	history, err := s.ConsensusHistory(ctx, "case-9")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "run-1", history[0].RunID)

	_, err = s.LatestConsensus(ctx, "case-unknown")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreCancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.AppendScore(ctx, "run-1", &aggregate.Score{CaseID: "case-1"}); err == nil {
		t.Error("expected error from cancelled context")
	}
	if _, err := s.LatestScore(ctx, "case-1"); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error for missing path")
	}
}
