// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package reload

import (
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bpowers/bitsnap/internal/frozen"
	"github.com/bpowers/bitsnap/internal/seqfile"
)

// Snapshot is a loaded, read-only snapshot.  Slices returned by Lookup
// may point into memory that Close releases.
type Snapshot interface {
	Lookup(key []byte) ([]byte, bool)
	Describe() string
	Close() error
}

// Loader opens the snapshot file at path.
type Loader func(path string) (Snapshot, error)

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}

// FrozenLoader loads frozen, hash-indexed snapshots.
func FrozenLoader(logger *slog.Logger) Loader {
	logger = orDiscard(logger)
	return func(path string) (Snapshot, error) {
		r, err := frozen.Open(path, frozen.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// SequentialLoader loads block-aligned sequential snapshots.
func SequentialLoader(logger *slog.Logger) Loader {
	logger = orDiscard(logger)
	return func(path string) (Snapshot, error) {
		s, err := seqfile.Open(path, seqfile.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Version identifies the snapshot serving lookups.
type Version struct {
	// Generation counts successful loads, starting at 1.
	Generation uint64
	// LoadID is unique per load, including reloads of the same file.
	LoadID      ulid.ULID
	Path        string
	ModTime     time.Time
	Size        int64
	Description string
}

// handle reference counts a Snapshot.  The controller holds one
// reference while the handle is current; each lookup holds another for
// its duration.  The snapshot is closed when the count drops to zero,
// and a handle whose count has reached zero can never be revived.
type handle struct {
	snap    Snapshot
	version Version
	refs    atomic.Int64
}

func newHandle(snap Snapshot, version Version) *handle {
	h := &handle{snap: snap, version: version}
	h.refs.Store(1)
	return h
}

func (h *handle) acquire() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (h *handle) release() {
	if n := h.refs.Add(-1); n == 0 {
		_ = h.snap.Close()
	} else if n < 0 {
		panic("reload: snapshot released too many times")
	}
}
