// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package frozen

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/bitsnap/internal/block"
	"github.com/bpowers/bitsnap/internal/ondisk"
)

type testEntry struct {
	Key   string
	Value string
}

func writeSnapshot(t testing.TB, models []Model, entries []testEntry) string {
	t.Helper()

	w, err := NewWriter(models...)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Put([]byte(e.Key), []byte(e.Value)))
	}

	var buf bytes.Buffer
	n, err := w.Finish(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	require.True(t, block.Aligned(n))

	path := filepath.Join(t.TempDir(), "snapshot.frz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0444))
	return path
}

// uniqueHashes drops entries whose key hash was already seen, which the
// writer would reject.  Large generated key sets hit 32-bit collisions.
func uniqueHashes(entries []testEntry) []testEntry {
	seen := make(map[uint32]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		h := Hash([]byte(e.Key))
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, e)
	}
	return out
}

func writeRaw(t testing.TB, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.frz")
	require.NoError(t, os.WriteFile(path, contents, 0644))
	return path
}

func TestFileHeader_RoundTrip(t *testing.T) {
	t.Parallel()

	origH := newFileHeader()
	origH.modelCount = 2
	origH.bucketCount = 512
	origH.entryCount = 129
	origH.valuePoolSize = 4242

	// too short should be an error
	err := origH.MarshalTo(nil)
	assert.Error(t, err)

	var newH fileHeader
	headerBytes := make([]byte, HeaderSize)
	// missing magic number
	err = newH.UnmarshalBytes(headerBytes)
	assert.True(t, errors.Is(err, ErrBadMagic))
	assert.True(t, errors.Is(err, ondisk.ErrFormat))

	require.NoError(t, origH.MarshalTo(headerBytes))

	err = newH.UnmarshalBytes(nil)
	assert.True(t, errors.Is(err, ErrTooSmall))

	require.NoError(t, newH.UnmarshalBytes(headerBytes))
	assert.Equal(t, origH, &newH)

	// deserializing an unknown version is an error
	origH.formatVersion = 666
	require.NoError(t, origH.MarshalTo(headerBytes))
	err = newH.UnmarshalBytes(headerBytes)
	assert.True(t, errors.Is(err, ErrBadVersion))
	assert.True(t, errors.Is(err, ondisk.ErrFormat))

	// so is a bucket count that can't be masked
	origH.formatVersion = FormatVersion
	origH.bucketCount = 3
	require.NoError(t, origH.MarshalTo(headerBytes))
	err = newH.UnmarshalBytes(headerBytes)
	assert.True(t, errors.Is(err, ErrBadBuckets))
}

func TestBucketCount(t *testing.T) {
	t.Parallel()

	for _, testcase := range []struct {
		input    int
		expected uint32
	}{
		{0, 0},
		{1, 2},
		{2, 4},
		{3, 8},
		{4, 8},
		{5, 16},
		{1000, 2048},
	} {
		require.Equal(t, testcase.expected, bucketCount(testcase.input), "n=%d", testcase.input)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	var entries []testEntry
	for i := 0; i < 10000; i++ {
		entries = append(entries, testEntry{Key: "key-" + strconv.Itoa(i), Value: "value-" + strconv.Itoa(i*7)})
	}
	// empty values are fine
	entries = append(entries, testEntry{Key: "empty", Value: ""})
	entries = uniqueHashes(entries)

	models := []Model{{ID: 1001, Version: 3}, {ID: 7, Version: 1}}
	path := writeSnapshot(t, models, entries)

	r, err := Open(path)
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	assert.Equal(t, models, r.Models())
	assert.Equal(t, len(entries), r.Len())
	assert.Equal(t, path, r.Path())
	assert.True(t, block.Aligned(int64(r.Size())))
	assert.Contains(t, r.Describe(), "<1001:3> <7:1>")

	for _, e := range entries {
		v, ok := r.LookupString(e.Key)
		require.True(t, ok, "key %q", e.Key)
		require.Equal(t, e.Value, string(v))
	}

	for _, negative := range []string{"", "doesn't exist", "key-10000"} {
		v, ok := r.LookupString(negative)
		assert.False(t, ok)
		assert.Nil(t, v)
	}
}

func TestEmptySnapshot(t *testing.T) {
	t.Parallel()

	path := writeSnapshot(t, []Model{{ID: 1, Version: 1}}, nil)

	r, err := Open(path)
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, block.Size, r.Size())
	for _, key := range []string{"", "a", "anything"} {
		v, ok := r.LookupString(key)
		assert.False(t, ok)
		assert.Nil(t, v)
	}
}

func TestFinish_MinSize(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(Model{ID: 1, Version: 1})
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("k"), []byte("v")))

	var buf bytes.Buffer
	n, err := w.Finish(&buf, 3*block.Size+1)
	require.NoError(t, err)
	assert.Equal(t, int64(4*block.Size), n)
	assert.Equal(t, 4*block.Size, buf.Len())

	// the writer is single use
	_, err = w.Finish(&buf, 0)
	assert.Error(t, err)
	assert.Error(t, w.Put([]byte("k2"), nil))
}

func TestWriter_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewWriter(Model{ID: 0, Version: 1})
	assert.True(t, errors.Is(err, ErrBadModel))
	assert.True(t, errors.Is(err, ondisk.ErrValidation))

	_, err = NewWriter(Model{ID: 1, Version: 0})
	assert.True(t, errors.Is(err, ErrBadModel))

	w, err := NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte("a"), []byte("1")))
	err = w.Put([]byte("a"), []byte("2"))
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	assert.Equal(t, 1, w.Len())
}

func TestWriter_HashCollision(t *testing.T) {
	t.Parallel()

	// find two distinct keys sharing a 32-bit hash; by the birthday
	// bound this takes on the order of 2^16 tries.
	seen := make(map[uint32]string)
	var a, b string
	for i := 0; i < 4_000_000; i++ {
		k := strconv.Itoa(i)
		h := Hash([]byte(k))
		if prev, ok := seen[h]; ok {
			a, b = prev, k
			break
		}
		seen[h] = k
	}
	require.NotEmpty(t, b, "no collision found")

	w, err := NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Put([]byte(a), []byte("first")))
	err = w.Put([]byte(b), []byte("second"))
	assert.True(t, errors.Is(err, ErrHashCollision))
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	_, err := Open("/doesnt/exist")
	assert.True(t, errors.Is(err, ondisk.ErrIO))

	// shorter than a header
	_, err = Open(writeRaw(t, []byte("STRATEGY")))
	assert.True(t, errors.Is(err, ErrTooSmall))
	assert.True(t, errors.Is(err, ondisk.ErrFormat))

	_, err = Open(writeRaw(t, nil))
	assert.True(t, errors.Is(err, ErrTooSmall))

	good, err := os.ReadFile(writeSnapshot(t, []Model{{ID: 1, Version: 1}}, []testEntry{{"k", "v"}}))
	require.NoError(t, err)

	badMagic := append([]byte(nil), good...)
	copy(badMagic, "STRATEGX")
	_, err = Open(writeRaw(t, badMagic))
	assert.True(t, errors.Is(err, ErrBadMagic))
	assert.True(t, errors.Is(err, ondisk.ErrFormat))

	badVersion := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(badVersion[versionOff:], 2)
	_, err = Open(writeRaw(t, badVersion))
	assert.True(t, errors.Is(err, ErrBadVersion))
	assert.True(t, errors.Is(err, ondisk.ErrFormat))

	badModel := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(badModel[HeaderSize:], 0)
	_, err = Open(writeRaw(t, badModel))
	assert.True(t, errors.Is(err, ErrBadModel))
	assert.True(t, errors.Is(err, ondisk.ErrValidation))

	tooManyEntries := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(tooManyEntries[entryCountOff:], 1<<30)
	_, err = Open(writeRaw(t, tooManyEntries))
	assert.True(t, errors.Is(err, ondisk.ErrTruncated))
}

func TestLookup_CorruptBucket(t *testing.T) {
	t.Parallel()

	good, err := os.ReadFile(writeSnapshot(t, []Model{{ID: 1, Version: 1}}, []testEntry{{"k", "v"}}))
	require.NoError(t, err)

	// one entry -> two buckets; point every non-empty bucket past the
	// entry table
	corrupt := append([]byte(nil), good...)
	for i := 0; i < 2; i++ {
		off := HeaderSize + ModelSize + i*BucketSize
		if binary.LittleEndian.Uint32(corrupt[off:]) != EmptyBucket {
			binary.LittleEndian.PutUint32(corrupt[off:], 99)
		}
	}

	r, err := Open(writeRaw(t, corrupt))
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	_, ok := r.LookupString("k")
	assert.False(t, ok)
}

func TestLookup_FullTable(t *testing.T) {
	t.Parallel()

	good, err := os.ReadFile(writeSnapshot(t, []Model{{ID: 1, Version: 1}}, []testEntry{{"k", "v"}}))
	require.NoError(t, err)

	// fill both buckets with the only entry, so no slot is ever empty:
	// probing has to stop after visiting every slot once
	full := append([]byte(nil), good...)
	binary.LittleEndian.PutUint32(full[HeaderSize+ModelSize:], 0)
	binary.LittleEndian.PutUint32(full[HeaderSize+ModelSize+BucketSize:], 0)

	r, err := Open(writeRaw(t, full))
	require.NoError(t, err)
	defer func() {
		_ = r.Close()
	}()

	v, ok := r.LookupString("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	_, ok = r.LookupString("missing")
	assert.False(t, ok)
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	r, err := Open(writeSnapshot(t, []Model{{ID: 1, Version: 1}}, []testEntry{{"k", "v"}}))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	// a closed reader misses rather than touching the old mapping
	_, ok := r.LookupString("k")
	assert.False(t, ok)
}

func BenchmarkLookup(b *testing.B) {
	var entries []testEntry
	for i := 0; i < 100000; i++ {
		entries = append(entries, testEntry{Key: "key-" + strconv.Itoa(i), Value: strconv.Itoa(i)})
	}
	entries = uniqueHashes(entries)
	r, err := Open(writeSnapshot(b, []Model{{ID: 1, Version: 1}}, entries))
	if err != nil {
		b.Fatal(err)
	}
	defer func() {
		_ = r.Close()
	}()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := entries[i%len(entries)]
		if v, ok := r.LookupString(e.Key); !ok || string(v) != e.Value {
			b.Fatal("bad data or lookup")
		}
	}
}
