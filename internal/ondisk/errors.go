// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ondisk

import "errors"

// Error kinds shared by the snapshot formats.  Format packages declare
// specific errors that wrap one of these, so callers can branch with
// errors.Is on the kind without knowing which format produced it.
var (
	// ErrFormat means the file is structurally invalid (bad magic, version
	// or size).  Retrying the same file will not help.
	ErrFormat = errors.New("format error")
	// ErrIO covers open/allocate/map/flush failures.
	ErrIO = errors.New("i/o error")
	// ErrTruncated means a section or record doesn't fit in the mapped extent.
	ErrTruncated = errors.New("truncated data")
	// ErrValidation means a record failed one of its field invariants.
	ErrValidation = errors.New("validation error")
)
