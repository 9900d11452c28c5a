// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bitsnap builds and serves immutable, memory-mapped key/value
// snapshots.
package bitsnap

import (
	"fmt"
	"log/slog"

	"github.com/bpowers/bitsnap/internal/frozen"
)

// TableOption configures Open.
type TableOption func(*tableOptions)

type tableOptions struct {
	logger *slog.Logger
}

// WithTableLogger sets an optional logger to report the load to.
func WithTableLogger(logger *slog.Logger) TableOption {
	return func(opts *tableOptions) {
		opts.logger = logger
	}
}

// Table is an open snapshot.  Values returned by Get and GetString point
// into the mapped file and are only valid until Close.
type Table struct {
	r *frozen.Reader
}

// Open maps the snapshot at path and faults it into memory.
func Open(path string, opts ...TableOption) (*Table, error) {
	var options tableOptions
	for _, opt := range opts {
		opt(&options)
	}
	var readerOpts []frozen.Option
	if options.logger != nil {
		readerOpts = append(readerOpts, frozen.WithLogger(options.logger))
	}
	r, err := frozen.Open(path, readerOpts...)
	if err != nil {
		return nil, fmt.Errorf("frozen.Open: %w", err)
	}
	return &Table{r: r}, nil
}

// GetString returns the value stored for key, if any.
func (t *Table) GetString(key string) ([]byte, bool) {
	return t.r.LookupString(key)
}

// Get returns the value stored for key, if any.
func (t *Table) Get(key []byte) ([]byte, bool) {
	return t.r.Lookup(key)
}

// Models returns the models the snapshot was built from.
func (t *Table) Models() []Model {
	return t.r.Models()
}

// Len returns the number of entries in the snapshot.
func (t *Table) Len() int {
	return t.r.Len()
}

// Close unmaps the snapshot.
func (t *Table) Close() error {
	return t.r.Close()
}
