// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package frozen contains the immutable, hash-indexed snapshot format
// used to serve static lookup data straight out of an mmap'd file.
//
// A frozen snapshot looks like:
//
//	┌───────────────────┐
//	│ file header       │ 28 bytes
//	├───────────────────┤
//	│ models            │ model_cnt * 8 bytes
//	├───────────────────┤
//	│ bucket table      │ bucket_cnt * 4 bytes
//	├───────────────────┤
//	│ entries           │ entry_cnt * 12 bytes
//	├───────────────────┤
//	│ value pool        │ val_pool_sz bytes
//	│                   │
//	├───────────────────┤
//	│ padding           │ up to a 4096-byte multiple
//	└───────────────────┘
//
// Sections follow each other with no padding in between.  The header is:
//
//	 0    1    2    3    4    5    6    7
//	+----+----+----+----+----+----+----+----+
//	| magic "STRATEGY"                      |
//	+----+----+----+----+----+----+----+----+
//	| version           | model_cnt         |
//	+----+----+----+----+----+----+----+----+
//	| bucket_cnt        | entry_cnt         |
//	+----+----+----+----+----+----+----+----+
//	| val_pool_sz       |
//	+----+----+----+----+
//
// A model is {model_id u32, version u32} and names the dataset the
// snapshot was built from.  A bucket is either 0xFFFFFFFF (empty) or the
// index of an entry; bucket_cnt is zero or a power of two and collisions
// are resolved by linear probing.  An entry is {key_hash u32,
// value_offset u32, value_size u32}, with the offset relative to the
// start of the value pool.  All integers are little-endian.
//
// Only the 32-bit farmhash of a key is stored, not the key itself.  The
// Writer refuses to add a key whose hash is already taken, so a lookup
// for any key that was put is exact; a lookup for a key that was never
// put can still report a false hit if it shares a hash with a stored key.
package frozen
