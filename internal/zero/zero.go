// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package zero provides functions to zero slices of specific types.
package zero

// Bytes zeroes b.  Mapped snapshot extents are cleared with this before
// being rewritten, so stale records from a previous, larger checkpoint
// can't survive.
func Bytes(b []byte) {
	clear(b)
}

// U32Fill sets every element of b to v.  Bucket tables use this to mark
// every slot empty before entries are placed.
func U32Fill(b []uint32, v uint32) {
	for i := range b {
		b[i] = v
	}
}
