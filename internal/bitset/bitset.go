// Copyright 2021 The bit Authors and Caleb Spare. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bitset tracks slot occupancy while building open-addressed
// bucket tables.
package bitset

import "math/bits"

// Bitset is an in-memory bitmap that is conceptually similar to []bool, but more memory efficient.
type Bitset struct {
	bits   []uint64
	length int64
	count  int64
}

func getOffsets(off int64) (sliceOff int64, bitOff uint64) {
	sliceOff = off / 64
	bitOff = uint64(off) % 64
	return
}

// Set sets the bit at position `off` to 1.
func (b *Bitset) Set(off int64) {
	if off < 0 || off >= b.length {
		return
	}
	sliceOff, bitOff := getOffsets(off)
	u64 := &b.bits[sliceOff]
	if *u64&(1<<bitOff) == 0 {
		b.count++
	}
	*u64 |= 1 << bitOff
}

// NextClear returns the position of the first 0 bit at or after `from`,
// wrapping around to the start.  ok is false when every bit is set.
func (b *Bitset) NextClear(from int64) (off int64, ok bool) {
	if b.count >= b.length {
		return 0, false
	}
	if from < 0 || from >= b.length {
		from = 0
	}
	if off, ok = b.nextClearIn(from, b.length); ok {
		return off, true
	}
	return b.nextClearIn(0, from)
}

// nextClearIn scans [start, end) a word at a time.
func (b *Bitset) nextClearIn(start, end int64) (int64, bool) {
	for off := start; off < end; {
		sliceOff, bitOff := getOffsets(off)
		free := ^b.bits[sliceOff] >> bitOff
		if free == 0 {
			off += int64(64 - bitOff)
			continue
		}
		off += int64(bits.TrailingZeros64(free))
		if off >= end {
			return 0, false
		}
		return off, true
	}
	return 0, false
}

// New returns a new in-memory bitset with every bit clear.
func New(length int64) *Bitset {
	sliceLen := (length + 63) / 64
	return &Bitset{
		bits:   make([]uint64, sliceLen),
		length: length,
	}
}
