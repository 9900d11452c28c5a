// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package seqfile contains the block-aligned sequential snapshot format
// used to checkpoint a mutable in-memory table and restore it later.
//
// A sequential snapshot looks like:
//
//	┌───────────────────┐ 0
//	│ file header       │
//	│ (zero padded)     │
//	├───────────────────┤ 4096
//	│ record 0          │
//	│ padding           │
//	├───────────────────┤ next 4096 boundary
//	│ record 1          │
//	│ padding           │
//	├───────────────────┤
//	│ ...               │
//	└───────────────────┘ max(block-rounded total, minimum size)
//
// The header holds two little-endian uint64s: the number of records in
// the file (map_entry_count) and the number of insertions the source
// table had seen (vec_entry_count).  Records are:
//
//	[key_len u64][key bytes][value_len u64][value bytes]
//
// and each record starts on a block boundary, so a record's head can be
// re-read on its own without parsing the records in front of it.
package seqfile
