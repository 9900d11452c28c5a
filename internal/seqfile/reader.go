// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package seqfile

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/bpowers/bitsnap/internal/block"
	"github.com/bpowers/bitsnap/internal/mmap"
	"github.com/bpowers/bitsnap/internal/ondisk"
)

// Snapshot is the decoded contents of a sequential snapshot file.  All
// records are copied out of the mapping, so a Snapshot doesn't hold on
// to the file.
type Snapshot struct {
	Header  Header
	Records []Record

	// Truncated is set when the header promised more records than the
	// file holds; Records then has the prefix that could be decoded.
	Truncated bool

	path  string
	index map[string]int
}

// Read maps the file at path and decodes its records in file order.
// Records that run past the end of the file are not an error: decoding
// stops there and Truncated is set on the result.
func Read(path string, opts ...Option) (*Snapshot, error) {
	o := newOptions(opts)
	begin := time.Now()

	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap.Open(%s): %w", ondisk.ErrIO, path, err)
	}
	defer func() {
		_ = m.Close()
	}()

	v := ondisk.View(m.Data())
	if v.Len() < HeaderSize {
		return nil, fmt.Errorf("%s: %w (%d bytes)", path, ErrTooSmall, v.Len())
	}
	if err := m.Prefetch(); err != nil {
		o.logger.Warn("readahead hint failed", "path", path, "error", err)
	}

	s := &Snapshot{path: path}
	// the header is in bounds; checked above
	s.Header.MapEntries, _ = v.U64At(mapCountOff)
	s.Header.VecEntries, _ = v.U64At(vecCountOff)

	// every record after the first starts on its own block, which bounds
	// how many a file of this size can hold regardless of the header
	capacity := min(s.Header.MapEntries, uint64((v.Len()-HeaderSize)/block.Size+1))
	s.Records = make([]Record, 0, capacity)

	off := int64(HeaderSize)
	for i := uint64(0); i < s.Header.MapEntries; i++ {
		off = block.RoundUp(off)
		r, next, err := readRecord(v, off)
		if err != nil {
			o.logger.Warn("sequential snapshot truncated",
				"path", path,
				"record", i,
				"want", s.Header.MapEntries,
				"error", err,
			)
			s.Truncated = true
			break
		}
		s.Records = append(s.Records, r)
		off = next
	}

	o.logger.Info("read sequential snapshot",
		"path", path,
		"records", len(s.Records),
		"map_entries", s.Header.MapEntries,
		"vec_entries", s.Header.VecEntries,
		"size", humanize.IBytes(uint64(v.Len())),
		"cost", time.Since(begin),
	)

	return s, nil
}

// readRecord decodes the record at off, copying its key and value out of
// v, and returns the offset just past it.
func readRecord(v ondisk.View, off int64) (Record, int64, error) {
	keyLen, err := v.U64At(off)
	if err != nil {
		return Record{}, 0, fmt.Errorf("key length: %w", err)
	}
	off += lenSize
	if keyLen > uint64(v.Len()) {
		return Record{}, 0, fmt.Errorf("%w: key length %d", ondisk.ErrTruncated, keyLen)
	}
	key, err := v.Slice(off, int64(keyLen))
	if err != nil {
		return Record{}, 0, fmt.Errorf("key: %w", err)
	}
	off += int64(keyLen)

	valueLen, err := v.U64At(off)
	if err != nil {
		return Record{}, 0, fmt.Errorf("value length: %w", err)
	}
	off += lenSize
	if valueLen > uint64(v.Len()) {
		return Record{}, 0, fmt.Errorf("%w: value length %d", ondisk.ErrTruncated, valueLen)
	}
	value, err := v.Slice(off, int64(valueLen))
	if err != nil {
		return Record{}, 0, fmt.Errorf("value: %w", err)
	}
	off += int64(valueLen)

	return Record{
		Key:   string(key),
		Value: append([]byte(nil), value...),
	}, off, nil
}

// Open reads the file at path and indexes its records by key, so the
// result can serve lookups.  When a key repeats, the last record wins.
func Open(path string, opts ...Option) (*Snapshot, error) {
	s, err := Read(path, opts...)
	if err != nil {
		return nil, err
	}
	s.index = make(map[string]int, len(s.Records))
	for i, r := range s.Records {
		s.index[r.Key] = i
	}
	return s, nil
}

// Lookup returns the value stored for key.  Only snapshots returned by
// Open are indexed; on others Lookup always misses.
func (s *Snapshot) Lookup(key []byte) ([]byte, bool) {
	i, ok := s.index[string(key)]
	if !ok {
		return nil, false
	}
	return s.Records[i].Value, true
}

// Len returns the number of decoded records.
func (s *Snapshot) Len() int {
	return len(s.Records)
}

// Path returns the file the snapshot was read from.
func (s *Snapshot) Path() string {
	return s.path
}

// Describe summarizes the snapshot for logs and version queries.
func (s *Snapshot) Describe() string {
	desc := fmt.Sprintf("sequential map_entries=%d vec_entries=%d records=%d",
		s.Header.MapEntries, s.Header.VecEntries, len(s.Records))
	if s.Truncated {
		desc += " truncated"
	}
	return desc
}

// Close drops the index.  The records were copied out of the file when
// it was read, so there is no mapping to release.
func (s *Snapshot) Close() error {
	s.index = nil
	return nil
}
