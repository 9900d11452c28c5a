// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package checkpoint holds a mutable in-memory key/value table that is
// periodically serialized to a sequential snapshot file, and can be
// restored from one.
package checkpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bpowers/bitsnap/internal/metrics"
	"github.com/bpowers/bitsnap/internal/seqfile"
)

// Option configures a Table.
type Option func(*Table)

// WithLogger sets an optional logger for checkpoint progress.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}

// WithMinSize sets the minimum size of checkpoint files.
func WithMinSize(n int64) Option {
	return func(t *Table) {
		t.minSize = n
	}
}

// WithMetrics reports checkpoint results to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Table) {
		t.metrics = m
	}
}

// Table is a key/value map that remembers the order keys were first
// set in.  One mutex guards reads, writes and serialization, so a
// checkpoint is always a consistent copy of the table.
type Table struct {
	mu     sync.Mutex
	values map[string][]byte
	// every Set, in order; its length is the insertion count
	log []string

	logger  *slog.Logger
	minSize int64
	metrics *metrics.Metrics
}

// New returns an empty Table.
func New(opts ...Option) *Table {
	t := &Table{
		values:  make(map[string][]byte),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		minSize: seqfile.DefaultMinFileSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Reserve grows the table's capacity to hold at least n keys.
func (t *Table) Reserve(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= len(t.values) {
		return
	}
	values := make(map[string][]byte, n)
	for k, v := range t.values {
		values[k] = v
	}
	t.values = values
	if cap(t.log) < n {
		log := make([]string, len(t.log), n)
		copy(log, t.log)
		t.log = log
	}
}

// Set stores a copy of value under key, replacing any previous value.
func (t *Table) Set(key string, value []byte) {
	v := append([]byte(nil), value...)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.values[key] = v
	t.log = append(t.log, key)
}

// Get returns a copy of the value stored under key.
func (t *Table) Get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.values[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Len returns the number of distinct keys.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.values)
}

// Sets returns how many times Set has been called.
func (t *Table) Sets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.log)
}

// RequiredSize returns the size a checkpoint of the table would have.
func (t *Table) RequiredSize() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return seqfile.Size(t.recordsLocked(), t.minSize)
}

// recordsLocked returns one record per key, in the order keys were
// first set, carrying the latest value.
func (t *Table) recordsLocked() []seqfile.Record {
	records := make([]seqfile.Record, 0, len(t.values))
	seen := make(map[string]struct{}, len(t.values))
	for _, k := range t.log {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		records = append(records, seqfile.Record{Key: k, Value: t.values[k]})
	}
	return records
}

// Checkpoint writes the table to path as a sequential snapshot.  The
// table is locked for the duration of the write.
func (t *Table) Checkpoint(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := seqfile.Write(path, t.recordsLocked(), uint64(len(t.log)),
		seqfile.WithMinSize(t.minSize),
		seqfile.WithLogger(t.logger),
	)
	t.metrics.ObserveCheckpoint(n, err)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return nil
}

// Restore replaces the table's contents with the records in the
// sequential snapshot at path.  truncated reports whether the file held
// fewer records than its header promised.
func (t *Table) Restore(path string) (truncated bool, err error) {
	s, err := seqfile.Read(path, seqfile.WithLogger(t.logger))
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", path, err)
	}

	values := make(map[string][]byte, len(s.Records))
	log := make([]string, 0, len(s.Records))
	for _, r := range s.Records {
		if _, ok := values[r.Key]; !ok {
			log = append(log, r.Key)
		}
		values[r.Key] = r.Value
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.values = values
	t.log = log

	return s.Truncated, nil
}

// Run checkpoints the table to path every interval until ctx is done.
// The first failed checkpoint stops the loop and is returned.
func (t *Table) Run(ctx context.Context, path string, interval time.Duration) error {
	t.logger.Info("starting continuous checkpoint", "path", path, "interval", interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("stopping continuous checkpoint", "path", path)
			return nil
		case <-timer.C:
		}

		if err := t.Checkpoint(path); err != nil {
			t.logger.Error("checkpoint failed", "path", path, "error", err)
			return err
		}
		timer.Reset(interval)
	}
}
