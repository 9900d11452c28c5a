// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap maps snapshot files into memory and wraps the page-level
// I/O hints (readahead, page touching, flushing) the snapshot formats
// rely on.
package mmap

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/bpowers/bitsnap/internal/block"
)

// Region is a mapped view of a file.  The mapping stays valid until
// Close, even if the file is unlinked or renamed over in the meantime.
type Region struct {
	data     []byte
	writable bool
	closed   atomic.Bool
}

// Open maps the whole file at path read-only.  An empty file results in
// a Region with no data.
func Open(path string) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}

	size := fi.Size()
	if size == 0 {
		return &Region{}, nil
	}
	if size < 0 || int64(int(size)) != size {
		return nil, fmt.Errorf("mmap: file %q has unsupported size %d", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap(%s): %w", path, err)
	}
	return &Region{data: data}, nil
}

// OpenWritable maps the first size bytes of the file at path read-write
// and shared, so stores are carried through to the file.  The file must
// already be at least size bytes long (see Allocate).
func OpenWritable(path string, size int64) (*Region, error) {
	if size <= 0 || int64(int(size)) != size {
		return nil, fmt.Errorf("mmap: bad mapping size %d", size)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	if fi.Size() < size {
		return nil, fmt.Errorf("mmap: file %q smaller than mapping (%d < %d)", path, fi.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap(%s): %w", path, err)
	}
	return &Region{data: data, writable: true}, nil
}

// Data returns the mapped bytes.  The slice must not be used after Close,
// and must never be written to for read-only regions.
func (r *Region) Data() []byte {
	return r.data
}

// Len returns the length of the mapping in bytes.
func (r *Region) Len() int {
	return len(r.data)
}

// WillNeed tells the kernel we are about to read the whole region.
func (r *Region) WillNeed() error {
	if len(r.data) == 0 {
		return nil
	}
	if err := unix.Madvise(r.data, unix.MADV_WILLNEED); err != nil {
		return fmt.Errorf("madvise: %w", err)
	}
	return nil
}

// Touch reads one byte from every page of the region, forcing it to be
// populated now rather than on first access.  The returned value is only
// there so the loads can't be optimized away.
func (r *Region) Touch() byte {
	return TouchPages(r.data)
}

// Prefetch issues WillNeed and then Touch.  A failing madvise is not
// fatal: touching the pages achieves the same thing, only slower.
func (r *Region) Prefetch() error {
	err := r.WillNeed()
	_ = r.Touch()
	return err
}

// Flush synchronously writes dirty pages back to the file.
func (r *Region) Flush() error {
	if !r.writable || len(r.data) == 0 {
		return nil
	}
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	return nil
}

// Close unmaps the region.  It is safe to call Close more than once.
func (r *Region) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	data := r.data
	r.data = nil
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

// TouchPages reads one byte per block.Size stride of b.
func TouchPages(b []byte) byte {
	var sum byte
	for off := 0; off < len(b); off += block.Size {
		sum += b[off]
	}
	return sum
}

// Allocate creates the file at path if needed and makes sure disk space
// for its first size bytes (rounded up to a whole block) is reserved.
// On filesystems without fallocate support the file is extended with
// ftruncate instead.
func Allocate(path string, size int64) error {
	size = block.RoundUp(size)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}

	err = unix.Fallocate(int(f.Fd()), 0, 0, size)
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		err = extend(f, size)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("fallocate(%s, %d): %w", path, size, err)
	}
	return nil
}

func extend(f *os.File, size int64) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() >= size {
		return nil
	}
	return f.Truncate(size)
}
