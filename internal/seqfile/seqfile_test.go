// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package seqfile

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/bitsnap/internal/block"
	"github.com/bpowers/bitsnap/internal/ondisk"
)

func TestSize(t *testing.T) {
	t.Parallel()

	// header only
	assert.Equal(t, int64(block.Size), Size(nil, 0))
	// the floor wins for small tables
	assert.Equal(t, int64(DefaultMinFileSize), Size(nil, DefaultMinFileSize))
	// and is itself rounded to a block
	assert.Equal(t, int64(2*block.Size), Size(nil, block.Size+1))

	// {"a":"1"} ends at 4096+18, the second record starts at 8192
	records := []Record{{Key: "a", Value: []byte("1")}, {Key: "bb", Value: []byte("22")}}
	assert.Equal(t, int64(3*block.Size), Size(records, 0))

	// a record that exactly fills its block
	exact := []Record{{Key: "k", Value: make([]byte, block.Size-2*lenSize-1)}}
	assert.Equal(t, int64(2*block.Size), Size(exact, 0))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint")
	records := []Record{
		{Key: "a", Value: []byte("1")},
		{Key: "bb", Value: []byte("22")},
	}

	n, err := Write(path, records, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMinFileSize), n)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, fi.Size() >= n)
	assert.True(t, block.Aligned(fi.Size()))

	s, err := Read(path)
	require.NoError(t, err)
	assert.False(t, s.Truncated)
	assert.Equal(t, Header{MapEntries: 2, VecEntries: 2}, s.Header)
	assert.Equal(t, records, s.Records)

	// records sit on block boundaries
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(raw[block.Size:]))
	assert.Equal(t, "a", string(raw[block.Size+lenSize:block.Size+lenSize+1]))
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(raw[2*block.Size:]))
	assert.Equal(t, "bb", string(raw[2*block.Size+lenSize:2*block.Size+lenSize+2]))
}

func TestRoundTrip_Many(t *testing.T) {
	t.Parallel()

	var records []Record
	for i := 1; i <= 100; i++ {
		value := []byte(strings.Repeat("v", i*97))
		records = append(records, Record{Key: "key-" + strconv.Itoa(i), Value: value})
	}
	// an empty value decodes as nil
	records = append(records, Record{Key: "empty"})

	path := filepath.Join(t.TempDir(), "checkpoint")
	_, err := Write(path, records, 250, WithMinSize(0))
	require.NoError(t, err)

	s, err := Open(path)
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
	}()

	assert.Equal(t, len(records), s.Len())
	assert.Equal(t, uint64(250), s.Header.VecEntries)
	for _, r := range records {
		v, ok := s.Lookup([]byte(r.Key))
		require.True(t, ok, "key %q", r.Key)
		require.Equal(t, r.Value, v)
	}
	_, ok := s.Lookup([]byte("missing"))
	assert.False(t, ok)
	assert.Contains(t, s.Describe(), "map_entries=101 vec_entries=250")
}

func TestWrite_InPlace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint")

	big := []Record{{Key: "a", Value: make([]byte, 3*block.Size)}, {Key: "b", Value: []byte("1")}}
	_, err := Write(path, big, 2, WithMinSize(0))
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	// a smaller rewrite of the same file only exposes the new records
	small := []Record{{Key: "c", Value: []byte("3")}}
	_, err = Write(path, small, 3, WithMinSize(0))
	require.NoError(t, err)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().After(old))

	s, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, small, s.Records)
	assert.Equal(t, uint64(3), s.Header.VecEntries)
}

func TestRead_Truncated(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint")
	records := []Record{
		{Key: "a", Value: []byte("1")},
		{Key: "bb", Value: []byte("22")},
	}
	_, err := Write(path, records, 2, WithMinSize(0))
	require.NoError(t, err)

	// chop the file in the middle of the second record
	require.NoError(t, os.Truncate(path, 2*block.Size+lenSize+1))

	s, err := Read(path)
	require.NoError(t, err)
	assert.True(t, s.Truncated)
	assert.Equal(t, records[:1], s.Records)
	assert.Contains(t, s.Describe(), "truncated")

	// a header that promises far more records than the file could hold
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(raw[mapCountOff:], 1<<40)
	require.NoError(t, os.WriteFile(path, raw, 0644))

	s, err = Read(path)
	require.NoError(t, err)
	assert.True(t, s.Truncated)
	assert.Equal(t, records[:1], s.Records)
}

func TestRead_ZeroedHeader(t *testing.T) {
	t.Parallel()

	// what an in-place rewrite looks like between zeroing the extent and
	// writing the header: a well-formed, empty snapshot
	path := filepath.Join(t.TempDir(), "checkpoint")
	_, err := Write(path, []Record{{Key: "a", Value: []byte("1")}}, 1, WithMinSize(0))
	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, make([]byte, fi.Size()), 0644))

	s, err := Open(path)
	require.NoError(t, err)
	assert.False(t, s.Truncated)
	assert.Zero(t, s.Len())
	_, ok := s.Lookup([]byte("a"))
	assert.False(t, ok)
}

func TestRead_HugeLength(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint")
	raw := make([]byte, 2*block.Size)
	binary.LittleEndian.PutUint64(raw[mapCountOff:], 1)
	binary.LittleEndian.PutUint64(raw[block.Size:], 1<<63)
	require.NoError(t, os.WriteFile(path, raw, 0644))

	s, err := Read(path)
	require.NoError(t, err)
	assert.True(t, s.Truncated)
	assert.Empty(t, s.Records)
}

func TestRead_Errors(t *testing.T) {
	t.Parallel()

	_, err := Read("/doesnt/exist")
	assert.True(t, errors.Is(err, ondisk.ErrIO))

	path := filepath.Join(t.TempDir(), "short")
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize-1), 0644))
	_, err = Read(path)
	assert.True(t, errors.Is(err, ErrTooSmall))
	assert.True(t, errors.Is(err, ondisk.ErrFormat))

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = Read(empty)
	assert.True(t, errors.Is(err, ErrTooSmall))
}

func TestWrite_Errors(t *testing.T) {
	t.Parallel()

	_, err := Write(filepath.Join(t.TempDir(), "missing-dir", "checkpoint"), nil, 0)
	assert.True(t, errors.Is(err, ErrAlloc))
	assert.True(t, errors.Is(err, ondisk.ErrIO))
}
