// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package frozen

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bpowers/bitsnap/internal/mmap"
	"github.com/bpowers/bitsnap/internal/ondisk"
	"github.com/bpowers/bitsnap/internal/unsafestring"
)

// Option configures Open.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets an optional logger to report loads to.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// Reader is a loaded frozen snapshot.  It owns its read-only mapping;
// value slices returned by Lookup point into that mapping and must not
// be used after Close.
type Reader struct {
	path    string
	region  *mmap.Region
	h       fileHeader
	models  []Model
	buckets ondisk.U32Slice
	entries ondisk.View
	pool    ondisk.View
	mask    uint32
}

// Open maps the snapshot at path, validates it and faults its pages in.
func Open(path string, opts ...Option) (*Reader, error) {
	var options options
	options.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, opt := range opts {
		opt(&options)
	}

	begin := time.Now()

	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap.Open(%s): %w", ondisk.ErrIO, path, err)
	}

	r := &Reader{
		path:   path,
		region: m,
	}
	if err := r.init(ondisk.View(m.Data())); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := m.Prefetch(); err != nil {
		options.logger.Warn("readahead hint failed, pages were touched anyway",
			"path", path,
			"error", err,
		)
	}

	options.logger.Info("loaded frozen snapshot",
		"path", path,
		"models", r.modelsString(),
		"entries", r.h.entryCount,
		"buckets", r.h.bucketCount,
		"value_pool", humanize.IBytes(uint64(r.h.valuePoolSize)),
		"size", humanize.IBytes(uint64(m.Len())),
		"cost", time.Since(begin),
	)

	return r, nil
}

// init parses the header and carves the mapped bytes into sections.
// Every section is bounds-checked against the mapping, so a corrupt
// count fails here instead of causing out-of-range reads later.
func (r *Reader) init(v ondisk.View) error {
	if err := r.h.UnmarshalBytes(v); err != nil {
		return err
	}

	modelsOff, bucketsOff, entriesOff, poolOff, end := r.h.sections()
	if end > v.Len() {
		return fmt.Errorf("%w: sections need %d bytes, file has %d", ondisk.ErrTruncated, end, v.Len())
	}

	models, err := v.Sub(modelsOff, bucketsOff-modelsOff)
	if err != nil {
		return fmt.Errorf("models: %w", err)
	}
	buckets, err := v.Sub(bucketsOff, entriesOff-bucketsOff)
	if err != nil {
		return fmt.Errorf("buckets: %w", err)
	}
	if r.entries, err = v.Sub(entriesOff, poolOff-entriesOff); err != nil {
		return fmt.Errorf("entries: %w", err)
	}
	if r.pool, err = v.Sub(poolOff, end-poolOff); err != nil {
		return fmt.Errorf("value pool: %w", err)
	}
	r.buckets = ondisk.U32Slice(buckets)

	r.models = make([]Model, 0, r.h.modelCount)
	for i := int64(0); i < int64(r.h.modelCount); i++ {
		id, err := models.U32At(i * ModelSize)
		if err != nil {
			return err
		}
		version, err := models.U32At(i*ModelSize + 4)
		if err != nil {
			return err
		}
		m := Model{ID: id, Version: version}
		if err := m.validate(); err != nil {
			return err
		}
		r.models = append(r.models, m)
	}

	if r.h.bucketCount != 0 {
		r.mask = r.h.bucketCount - 1
	}

	return nil
}

// LookupString searches for s, returning its value if found.
func (r *Reader) LookupString(s string) ([]byte, bool) {
	return r.Lookup(unsafestring.ToBytes(s))
}

// Lookup searches for key, returning its value if found.  At most
// bucket_cnt slots are probed, so a table without empty slots can't
// loop forever.
func (r *Reader) Lookup(key []byte) ([]byte, bool) {
	n := r.buckets.Len()
	if n == 0 {
		return nil, false
	}

	h := Hash(key)
	slot := h & r.mask
	for probes := int64(0); probes < n; probes++ {
		idx, ok := r.buckets.Get(int64(slot))
		if !ok || idx == EmptyBucket {
			return nil, false
		}
		if keyHash, err := r.entries.U32At(int64(idx) * EntrySize); err == nil && keyHash == h {
			return r.value(idx)
		}
		slot = (slot + 1) & r.mask
	}
	return nil, false
}

func (r *Reader) value(idx uint32) ([]byte, bool) {
	off, err := r.entries.U32At(int64(idx)*EntrySize + 4)
	if err != nil {
		return nil, false
	}
	size, err := r.entries.U32At(int64(idx)*EntrySize + 8)
	if err != nil {
		return nil, false
	}
	v, err := r.pool.Slice(int64(off), int64(size))
	if err != nil {
		return nil, false
	}
	return v, true
}

// Models returns the models this snapshot was built from.
func (r *Reader) Models() []Model {
	return append([]Model(nil), r.models...)
}

// Len returns the number of entries in the snapshot.
func (r *Reader) Len() int {
	return int(r.h.entryCount)
}

// Size returns the size of the mapping in bytes.
func (r *Reader) Size() int {
	return r.region.Len()
}

// Path returns the file the snapshot was loaded from.
func (r *Reader) Path() string {
	return r.path
}

func (r *Reader) modelsString() string {
	var sb strings.Builder
	for i, m := range r.models {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(m.String())
	}
	return sb.String()
}

// Describe summarizes the snapshot for logs and version queries.
func (r *Reader) Describe() string {
	return fmt.Sprintf("frozen models=[%s] entries=%d buckets=%d", r.modelsString(), r.h.entryCount, r.h.bucketCount)
}

// Close unmaps the snapshot.  It is safe to call Close more than once.
func (r *Reader) Close() error {
	r.buckets = nil
	r.entries = nil
	r.pool = nil
	return r.region.Close()
}
