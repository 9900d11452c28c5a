// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package frozen

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/bits"
	"sync/atomic"

	"github.com/bpowers/bitsnap/internal/bitset"
	"github.com/bpowers/bitsnap/internal/block"
	"github.com/bpowers/bitsnap/internal/zero"
)

const (
	defaultBufferSize = 4 * 1024 * 1024

	// keeps 2*entries representable as a power-of-two bucket count
	maxEntries = 1 << 30
)

type entry struct {
	hash uint32
	off  uint32
	size uint32
}

// Writer accumulates key/value pairs in memory and serializes them as a
// frozen snapshot.
type Writer struct {
	models   []Model
	entries  []entry
	keys     map[uint32]string
	pool     []byte
	finished atomic.Bool
}

// NewWriter returns a Writer for a snapshot carrying the given models.
func NewWriter(models ...Model) (*Writer, error) {
	for _, m := range models {
		if err := m.validate(); err != nil {
			return nil, err
		}
	}
	return &Writer{
		models: append([]Model(nil), models...),
		keys:   make(map[uint32]string),
	}, nil
}

// Put adds a key/value pair.  Keys whose hash is already taken are
// rejected: the format only stores hashes, so two keys sharing one
// could not be told apart at lookup time.
func (w *Writer) Put(key, value []byte) error {
	if w.finished.Load() {
		return errors.New("Put after Finish")
	}
	if len(w.entries) >= maxEntries {
		return ErrTooManyEntries
	}
	if uint64(len(w.pool))+uint64(len(value)) > math.MaxUint32 {
		return ErrPoolTooLarge
	}

	h := Hash(key)
	if existing, ok := w.keys[h]; ok {
		if existing == string(key) {
			return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
		}
		return fmt.Errorf("%w: %q and %q both hash to %#x", ErrHashCollision, existing, key, h)
	}
	// copy the key (by allocating a string), because it could point into
	// e.g. a bufio buffer
	w.keys[h] = string(key)

	w.entries = append(w.entries, entry{
		hash: h,
		off:  uint32(len(w.pool)),
		size: uint32(len(value)),
	})
	w.pool = append(w.pool, value...)
	return nil
}

// Len returns the number of entries put so far.
func (w *Writer) Len() int {
	return len(w.entries)
}

// bucketCount returns the smallest power of two that keeps the table at
// most half full, or zero for an empty table.
func bucketCount(n int) uint32 {
	if n == 0 {
		return 0
	}
	return 1 << bits.Len64(uint64(2*n-1))
}

func (w *Writer) buildBuckets() []uint32 {
	n := bucketCount(len(w.entries))
	if n == 0 {
		return nil
	}
	mask := n - 1
	buckets := make([]uint32, n)
	zero.U32Fill(buckets, EmptyBucket)
	occ := bitset.New(int64(n))
	for i, e := range w.entries {
		slot, ok := occ.NextClear(int64(e.hash & mask))
		if !ok {
			panic("invariant broken: bucket table full")
		}
		occ.Set(slot)
		buckets[slot] = uint32(i)
	}
	return buckets
}

// Finish serializes the snapshot to out, padding it with zeros to a
// whole number of blocks and to at least minSize bytes.  It returns the
// number of bytes written.
func (w *Writer) Finish(out io.Writer, minSize int64) (int64, error) {
	if alreadyFinished := w.finished.Swap(true); alreadyFinished {
		return 0, errors.New("Finish called twice")
	}
	// we're done with this -- nil it so it can be GC'd earlier
	w.keys = nil

	buckets := w.buildBuckets()

	h := newFileHeader()
	h.modelCount = uint32(len(w.models))
	h.bucketCount = uint32(len(buckets))
	h.entryCount = uint32(len(w.entries))
	h.valuePoolSize = uint32(len(w.pool))

	bw := bufio.NewWriterSize(out, defaultBufferSize)
	var written int64
	write := func(b []byte) error {
		n, err := bw.Write(b)
		written += int64(n)
		return err
	}

	var headerBuf [HeaderSize]byte
	if err := h.MarshalTo(headerBuf[:]); err != nil {
		return 0, err
	}
	if err := write(headerBuf[:]); err != nil {
		return written, fmt.Errorf("write header: %w", err)
	}

	var scratch [EntrySize]byte
	for _, m := range w.models {
		binary.LittleEndian.PutUint32(scratch[0:4], m.ID)
		binary.LittleEndian.PutUint32(scratch[4:8], m.Version)
		if err := write(scratch[:ModelSize]); err != nil {
			return written, fmt.Errorf("write models: %w", err)
		}
	}
	for _, b := range buckets {
		binary.LittleEndian.PutUint32(scratch[0:4], b)
		if err := write(scratch[:BucketSize]); err != nil {
			return written, fmt.Errorf("write buckets: %w", err)
		}
	}
	for _, e := range w.entries {
		binary.LittleEndian.PutUint32(scratch[0:4], e.hash)
		binary.LittleEndian.PutUint32(scratch[4:8], e.off)
		binary.LittleEndian.PutUint32(scratch[8:12], e.size)
		if err := write(scratch[:EntrySize]); err != nil {
			return written, fmt.Errorf("write entries: %w", err)
		}
	}
	if err := write(w.pool); err != nil {
		return written, fmt.Errorf("write value pool: %w", err)
	}

	// pad up so the whole file is a multiple of the block size
	target := block.RoundUp(max(written, minSize))
	if pad := target - written; pad > 0 {
		zeroes := make([]byte, min(pad, defaultBufferSize))
		for pad > 0 {
			n := min(pad, int64(len(zeroes)))
			if err := write(zeroes[:n]); err != nil {
				return written, fmt.Errorf("write padding: %w", err)
			}
			pad -= n
		}
	}

	if err := bw.Flush(); err != nil {
		return written, fmt.Errorf("bufio.Flush: %w", err)
	}

	w.pool = nil
	w.entries = nil
	return written, nil
}
