// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package ondisk provides bounds-checked, read-only access to the bytes
// of a mapped snapshot file.
package ondisk

import (
	"encoding/binary"
	"fmt"
)

// View is a read-only window into a byte array (usually an mmap'd
// file).  Every accessor checks its range against the window and fails
// with ErrTruncated instead of reading past the end.
type View []byte

// Len returns the length of the window in bytes.
func (v View) Len() int64 {
	return int64(len(v))
}

func (v View) check(off, n int64) error {
	if off < 0 || n < 0 || off > int64(len(v)) || n > int64(len(v))-off {
		return fmt.Errorf("%w: [%d, %d+%d) outside of %d-byte extent", ErrTruncated, off, off, n, len(v))
	}
	return nil
}

// U32At reads a little-endian uint32 at byte offset off.
func (v View) U32At(off int64) (uint32, error) {
	if err := v.check(off, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(v[off : off+4]), nil
}

// U64At reads a little-endian uint64 at byte offset off.
func (v View) U64At(off int64) (uint64, error) {
	if err := v.check(off, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(v[off : off+8]), nil
}

// Slice returns the n bytes starting at off.  The result aliases the
// underlying memory and has its capacity clipped to n.
func (v View) Slice(off, n int64) ([]byte, error) {
	if err := v.check(off, n); err != nil {
		return nil, err
	}
	return v[off : off+n : off+n], nil
}

// Sub returns the sub-view of n bytes starting at off.
func (v View) Sub(off, n int64) (View, error) {
	b, err := v.Slice(off, n)
	if err != nil {
		return nil, err
	}
	return View(b), nil
}

// U32Slice is a read-only view of a byte array as if it was []uint32.
type U32Slice View

// Len returns the number of elements in the slice.
func (s U32Slice) Len() int64 {
	return int64(len(s)) / 4
}

// Get returns the i-th element, or false when i is out of range.
func (s U32Slice) Get(i int64) (uint32, bool) {
	if i < 0 || i >= s.Len() {
		return 0, false
	}
	return binary.LittleEndian.Uint32(s[i*4 : i*4+4]), true
}
