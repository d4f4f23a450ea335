// Copyright (C) 2026 Customs Platform Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists the append-only scoring audit trail in an
// embedded BadgerDB.
//
// Every scoring run appends its score and consensus record; nothing is
// ever updated in place, so the full history of how a case's score
// evolved across catalog versions and evidence arrivals stays
// reconstructible.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/titanxw-wq/Customs/services/scoring/aggregate"
	"github.com/titanxw-wq/Customs/services/scoring/consensus"
)

// ErrNotFound is returned when a case has no recorded history.
var ErrNotFound = errors.New("not found")

// Config holds configuration for the audit store.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory keeps everything in RAM. For tests.
	InMemory bool

	// SyncWrites forces durable writes. Audit records default to
	// durable; tests turn this off.
	SyncWrites bool

	// Logger receives the database's internal log output. Nil disables
	// it.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before GC rewrites a
	// value log file. Default 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns durable production settings.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to BadgerDB's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// ScoreEntry is one appended score with its storage metadata.
type ScoreEntry struct {
	RunID      string           `json:"run_id"`
	RecordedAt time.Time        `json:"recorded_at"`
	Score      *aggregate.Score `json:"score"`
}

// ConsensusEntry is one appended consensus record.
type ConsensusEntry struct {
	RunID      string            `json:"run_id"`
	RecordedAt time.Time         `json:"recorded_at"`
	Record     *consensus.Record `json:"record"`
}

// Store is the append-only audit trail.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens the audit store, creating the directory if needed.
// Call Close when done.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger,
		now:    time.Now,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio == 0 {
			ratio = 0.5
		}
		go s.runGC(cfg.GCInterval, ratio)
	} else {
		close(s.doneGC)
	}

	return s, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	select {
	case <-s.stopGC:
	default:
		close(s.stopGC)
	}
	<-s.doneGC
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.logger != nil {
				s.logger.Warn("audit store GC error", "error", err.Error())
			}
		}
	}
}

// Key layout. The nanosecond timestamp keeps entries in append order
// under prefix iteration; the run id disambiguates same-instant runs.
//
//	score/<case_id>/<unix_nano>/<run_id>
//	consensus/<case_id>/<unix_nano>/<run_id>
func scoreKey(caseID string, at time.Time, runID string) []byte {
	return fmt.Appendf(nil, "score/%s/%020d/%s", caseID, at.UnixNano(), runID)
}

func consensusKey(caseID string, at time.Time, runID string) []byte {
	return fmt.Appendf(nil, "consensus/%s/%020d/%s", caseID, at.UnixNano(), runID)
}

// AppendScore appends one run's score to the case's history.
func (s *Store) AppendScore(ctx context.Context, runID string, score *aggregate.Score) error {
	entry := ScoreEntry{RunID: runID, RecordedAt: s.now(), Score: score}
	key := scoreKey(score.CaseID, entry.RecordedAt, runID)
	return s.append(ctx, key, entry)
}

// AppendConsensus appends one run's consensus record to the case's
// history.
func (s *Store) AppendConsensus(ctx context.Context, record *consensus.Record) error {
	entry := ConsensusEntry{RunID: record.RunID, RecordedAt: s.now(), Record: record}
	key := consensusKey(record.CaseID, entry.RecordedAt, record.RunID)
	return s.append(ctx, key, entry)
}

func (s *Store) append(ctx context.Context, key []byte, entry any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// LatestScore returns the most recent score appended for a case, or
// ErrNotFound when the case has no history.
func (s *Store) LatestScore(ctx context.Context, caseID string) (*ScoreEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	prefix := []byte("score/" + caseID + "/")
	var entry *ScoreEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts past the end of the prefix range.
		it.Seek(append(append([]byte(nil), prefix...), 0xff))
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		return it.Item().Value(func(val []byte) error {
			entry = &ScoreEntry{}
			return json.Unmarshal(val, entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ScoreHistory returns every score appended for a case, oldest first.
// A case with no history returns an empty slice, not an error.
func (s *Store) ScoreHistory(ctx context.Context, caseID string) ([]ScoreEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	prefix := []byte("score/" + caseID + "/")
	var entries []ScoreEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry ScoreEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LatestConsensus returns the most recent consensus record for a case,
// or ErrNotFound.
func (s *Store) LatestConsensus(ctx context.Context, caseID string) (*ConsensusEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	prefix := []byte("consensus/" + caseID + "/")
	var entry *ConsensusEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte(nil), prefix...), 0xff))
		if !it.ValidForPrefix(prefix) {
			return ErrNotFound
		}
		return it.Item().Value(func(val []byte) error {
			entry = &ConsensusEntry{}
			return json.Unmarshal(val, entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ConsensusHistory returns every consensus record for a case, oldest
// first.
func (s *Store) ConsensusHistory(ctx context.Context, caseID string) ([]ConsensusEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	prefix := []byte("consensus/" + caseID + "/")
	var entries []ConsensusEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry ConsensusEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
