// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package frozen

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/bitsnap/internal/ondisk"
)

const (
	Magic         = "STRATEGY"
	FormatVersion = 1

	HeaderSize = 8 + 5*4
	ModelSize  = 4 + 4
	BucketSize = 4
	EntrySize  = 4 + 4 + 4

	// EmptyBucket marks an unused slot in the bucket table.
	EmptyBucket = ^uint32(0)

	versionOff       = 8
	modelCountOff    = 12
	bucketCountOff   = 16
	entryCountOff    = 20
	valuePoolSizeOff = 24
)

var (
	ErrTooSmall   = fmt.Errorf("%w: file too small for frozen header", ondisk.ErrFormat)
	ErrBadMagic   = fmt.Errorf("%w: bad magic", ondisk.ErrFormat)
	ErrBadVersion = fmt.Errorf("%w: unsupported version", ondisk.ErrFormat)
	ErrBadBuckets = fmt.Errorf("%w: bucket count is not a power of two", ondisk.ErrFormat)
	ErrBadModel   = fmt.Errorf("%w: model id and version must be non-zero", ondisk.ErrValidation)

	ErrDuplicateKey   = errors.New("duplicate keys aren't supported")
	ErrHashCollision  = errors.New("key hash collides with an existing key")
	ErrPoolTooLarge   = errors.New("value pool would exceed 4 GB")
	ErrTooManyEntries = errors.New("too many entries for a 32-bit bucket table")
)

// Hash is the stable 32-bit hash stored for every key.
func Hash(key []byte) uint32 {
	return farm.Hash32(key)
}

// Model identifies a dataset (and its version) carried by a snapshot.
type Model struct {
	ID      uint32
	Version uint32
}

func (m Model) String() string {
	return fmt.Sprintf("<%d:%d>", m.ID, m.Version)
}

func (m Model) validate() error {
	if m.ID == 0 || m.Version == 0 {
		return fmt.Errorf("%w: got %s", ErrBadModel, m)
	}
	return nil
}

type fileHeader struct {
	magic         [8]byte
	formatVersion uint32
	modelCount    uint32
	bucketCount   uint32
	entryCount    uint32
	valuePoolSize uint32
}

func newFileHeader() *fileHeader {
	h := &fileHeader{formatVersion: FormatVersion}
	copy(h.magic[:], Magic)
	return h
}

func (h *fileHeader) MarshalTo(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("header buffer too short: %d < %d", len(b), HeaderSize)
	}
	copy(b[:8], h.magic[:])
	binary.LittleEndian.PutUint32(b[versionOff:], h.formatVersion)
	binary.LittleEndian.PutUint32(b[modelCountOff:], h.modelCount)
	binary.LittleEndian.PutUint32(b[bucketCountOff:], h.bucketCount)
	binary.LittleEndian.PutUint32(b[entryCountOff:], h.entryCount)
	binary.LittleEndian.PutUint32(b[valuePoolSizeOff:], h.valuePoolSize)
	return nil
}

func (h *fileHeader) UnmarshalBytes(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w (%d < %d)", ErrTooSmall, len(b), HeaderSize)
	}

	copy(h.magic[:], b[:8])
	if string(h.magic[:]) != Magic {
		return fmt.Errorf("%w %q -- not a frozen snapshot or corrupted", ErrBadMagic, h.magic[:])
	}

	h.formatVersion = binary.LittleEndian.Uint32(b[versionOff:])
	if h.formatVersion != FormatVersion {
		return fmt.Errorf("%w: can only read v%d snapshots; found v%d", ErrBadVersion, FormatVersion, h.formatVersion)
	}

	h.modelCount = binary.LittleEndian.Uint32(b[modelCountOff:])
	h.bucketCount = binary.LittleEndian.Uint32(b[bucketCountOff:])
	h.entryCount = binary.LittleEndian.Uint32(b[entryCountOff:])
	h.valuePoolSize = binary.LittleEndian.Uint32(b[valuePoolSizeOff:])

	if h.bucketCount != 0 && bits.OnesCount32(h.bucketCount) != 1 {
		return fmt.Errorf("%w (%d)", ErrBadBuckets, h.bucketCount)
	}

	return nil
}

// sections returns the byte offset of each section, plus the offset just
// past the value pool.  Offsets are computed in 64 bits so that corrupt
// counts can't wrap around.
func (h *fileHeader) sections() (models, buckets, entries, pool, end int64) {
	models = HeaderSize
	buckets = models + int64(h.modelCount)*ModelSize
	entries = buckets + int64(h.bucketCount)*BucketSize
	pool = entries + int64(h.entryCount)*EntrySize
	end = pool + int64(h.valuePoolSize)
	return
}
