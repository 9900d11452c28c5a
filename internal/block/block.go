// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package block rounds sizes and offsets to the filesystem block size.
package block

// Size is the filesystem block (and page) size every snapshot file is
// allocated in multiples of.
const Size = 4096

// RoundUp returns the smallest multiple of Size that is >= n.
func RoundUp(n int64) int64 {
	return (n + Size - 1) &^ (Size - 1)
}

// Aligned reports whether n falls on a block boundary.
func Aligned(n int64) bool {
	return n&(Size-1) == 0
}
