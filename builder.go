// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bitsnap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bpowers/bitsnap/internal/frozen"
)

const maxInputLineLen = 16 * 1024 * 1024

var (
	errNoModels   = errors.New("a snapshot needs at least one model")
	errFinalized  = errors.New("builder already finalized")
	errInputShape = errors.New("input line is not a key/value pair")
)

// Model identifies a dataset, and its version, carried by a snapshot.
type Model = frozen.Model

// BuilderOption configures the Builder.
type BuilderOption func(*builderOptions)

type builderOptions struct {
	logger  *slog.Logger
	models  []Model
	minSize int64
}

// WithBuilderLogger sets an optional logger for the builder to use for progress updates.
// If not provided, no logging output will be produced.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(opts *builderOptions) {
		opts.logger = logger
	}
}

// WithModels sets the models recorded in the snapshot header.
func WithModels(models ...Model) BuilderOption {
	return func(opts *builderOptions) {
		opts.models = append(opts.models, models...)
	}
}

// WithMinSize pads the finished snapshot to at least n bytes.  Fixed
// size snapshots keep a rotation's disk usage predictable.
func WithMinSize(n int64) BuilderOption {
	return func(opts *builderOptions) {
		opts.minSize = n
	}
}

// Builder is used to construct an immutable snapshot from key/value
// pairs.  The snapshot only becomes visible at its final path once
// Finalize succeeds.
type Builder struct {
	resultPath string
	w          *frozen.Writer
	minSize    int64
	logger     *slog.Logger
	done       bool
}

// NewBuilder creates a Builder that will write a snapshot to path.
// Building should happen once per Builder.
func NewBuilder(path string, opts ...BuilderOption) (*Builder, error) {
	var options builderOptions
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(&options)
	}
	if len(options.models) == 0 {
		return nil, errNoModels
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filepath.Abs: %w", err)
	}
	w, err := frozen.NewWriter(options.models...)
	if err != nil {
		return nil, fmt.Errorf("frozen.NewWriter: %w", err)
	}
	return &Builder{
		resultPath: path,
		w:          w,
		minSize:    options.minSize,
		logger:     options.logger,
	}, nil
}

// Put adds a key/value pair to the snapshot.  Duplicate keys, and keys
// whose hash collides with an earlier key, are rejected.
func (b *Builder) Put(k, v []byte) error {
	if b.done {
		return errFinalized
	}
	return b.w.Put(k, v)
}

// PutLines adds one pair per line of r, with key and value separated by
// the first occurrence of sep.  It returns the number of pairs added.
func (b *Builder) PutLines(r io.Reader, sep byte) (int, error) {
	return ReadPairs(r, sep, b.Put)
}

// ReadPairs calls fn for every non-empty line of r, split into key and
// value at the first occurrence of sep.  The slices passed to fn are
// only valid for the duration of the call.  It returns the number of
// pairs passed to fn without error.
func ReadPairs(r io.Reader, sep byte, fn func(k, v []byte) error) (int, error) {
	s := bufio.NewScanner(bufio.NewReaderSize(r, 16*1024))
	s.Buffer(make([]byte, 0, 64*1024), maxInputLineLen)
	n := 0
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		k, v, ok := split2(line, sep)
		if !ok {
			return n, fmt.Errorf("line %d: %w", n+1, errInputShape)
		}
		if err := fn(k, v); err != nil {
			return n, err
		}
		n++
	}
	if err := s.Err(); err != nil {
		return n, fmt.Errorf("bufio.Scanner: %w", err)
	}
	return n, nil
}

// Len returns the number of pairs added so far.
func (b *Builder) Len() int {
	return b.w.Len()
}

// Finalize writes the snapshot to a temporary file next to its final
// path, makes it read-only and renames it into place.
func (b *Builder) Finalize() error {
	if b.done {
		return errFinalized
	}
	b.done = true

	begin := time.Now()
	entries := b.w.Len()

	// we want to write to a new file and do an atomic rename when we're done on disk
	dir := filepath.Dir(b.resultPath)
	f, err := os.CreateTemp(dir, "bitsnap-builder.*.frz")
	if err != nil {
		return fmt.Errorf("CreateTemp failed (may need permissions for dir %q containing snapshot): %w", dir, err)
	}
	tmpPath := f.Name()
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	size, err := b.w.Finish(f, b.minSize)
	if err != nil {
		cleanup()
		return fmt.Errorf("frozen.Finish: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("f.Sync: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("f.Close: %w", err)
	}

	// make the file read-only
	if err := os.Chmod(tmpPath, 0444); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("os.Chmod(0444): %w", err)
	}
	if err := os.Rename(tmpPath, b.resultPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("os.Rename: %w", err)
	}

	b.logger.Info("built snapshot",
		"path", b.resultPath,
		"entries", entries,
		"size", humanize.IBytes(uint64(size)),
		"cost", time.Since(begin),
	)

	return nil
}
