// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package seqfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bpowers/bitsnap/internal/block"
	"github.com/bpowers/bitsnap/internal/mmap"
	"github.com/bpowers/bitsnap/internal/ondisk"
	"github.com/bpowers/bitsnap/internal/zero"
)

const (
	// HeaderSize is the size of the (padded) file header.
	HeaderSize = block.Size

	// DefaultMinFileSize keeps tiny tables from producing pathologically
	// small files.
	DefaultMinFileSize = block.Size * 1000

	lenSize = 8

	mapCountOff = 0
	vecCountOff = 8
)

var (
	ErrTooSmall = fmt.Errorf("%w: file too small for sequential header", ondisk.ErrFormat)
	ErrAlloc    = fmt.Errorf("%w: allocation failed", ondisk.ErrIO)
)

// Record is a single key/value pair.
type Record struct {
	Key   string
	Value []byte
}

func (r Record) encodedLen() int64 {
	return lenSize + int64(len(r.Key)) + lenSize + int64(len(r.Value))
}

// Header is the decoded file header.
type Header struct {
	MapEntries uint64
	VecEntries uint64
}

// Option configures Write, Read and Open.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	minSize int64
}

func newOptions(opts []Option) options {
	o := options{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		minSize: DefaultMinFileSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets an optional logger for progress and degradation reports.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMinSize overrides DefaultMinFileSize.
func WithMinSize(n int64) Option {
	return func(o *options) {
		o.minSize = n
	}
}

// Size returns the file size needed to hold records: the header plus
// every record at its block-aligned offset, rounded up to a whole block
// and floored to minSize.
func Size(records []Record, minSize int64) int64 {
	total := int64(HeaderSize)
	for _, r := range records {
		total = block.RoundUp(total)
		total += r.encodedLen()
	}
	return block.RoundUp(max(total, minSize))
}

// Write serializes records into the file at path through a shared,
// read-write mapping.  The file is created if needed and pre-allocated
// to Size bytes; the mapped extent is zeroed before anything is written.
// vecCount is recorded in the header as the source's insertion count.
func Write(path string, records []Record, vecCount uint64, opts ...Option) (int64, error) {
	o := newOptions(opts)
	begin := time.Now()

	size := Size(records, o.minSize)
	if err := mmap.Allocate(path, size); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAlloc, err)
	}

	m, err := mmap.OpenWritable(path, size)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ondisk.ErrIO, err)
	}
	defer func() {
		_ = m.Close()
	}()

	data := m.Data()
	zero.Bytes(data)

	binary.LittleEndian.PutUint64(data[mapCountOff:], uint64(len(records)))
	binary.LittleEndian.PutUint64(data[vecCountOff:], vecCount)

	off := int64(HeaderSize)
	for _, r := range records {
		off = block.RoundUp(off)
		off = putRecord(data, off, r)
	}

	if err := m.Flush(); err != nil {
		return 0, fmt.Errorf("%w: %w", ondisk.ErrIO, err)
	}
	if err := m.Prefetch(); err != nil {
		o.logger.Warn("readahead hint failed", "path", path, "error", err)
	}

	// stores through a mapping don't reliably bump mtime, and watchers
	// rely on it to notice in-place regeneration
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return 0, fmt.Errorf("%w: os.Chtimes: %w", ondisk.ErrIO, err)
	}

	o.logger.Info("wrote sequential snapshot",
		"path", path,
		"map_entries", len(records),
		"vec_entries", vecCount,
		"size", humanize.IBytes(uint64(size)),
		"cost", time.Since(begin),
	)

	return size, nil
}

// putRecord encodes r at off and returns the offset just past it.  The
// caller sized data with Size, so the record always fits.
func putRecord(data []byte, off int64, r Record) int64 {
	binary.LittleEndian.PutUint64(data[off:], uint64(len(r.Key)))
	off += lenSize
	off += int64(copy(data[off:], r.Key))
	binary.LittleEndian.PutUint64(data[off:], uint64(len(r.Value)))
	off += lenSize
	off += int64(copy(data[off:], r.Value))
	return off
}
