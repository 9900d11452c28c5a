// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/bitsnap/internal/frozen"
	"github.com/bpowers/bitsnap/internal/manifest"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := app(&out).Run(append([]string{"snapctl", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestGenBuildGet(t *testing.T) {
	dir := t.TempDir()

	pairs, err := runApp(t, "gen", "--count", "100", "--seed", "42")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(pairs), "\n")
	require.Len(t, lines, 100)

	input := filepath.Join(dir, "pairs.txt")
	require.NoError(t, os.WriteFile(input, []byte(pairs), 0644))

	snapshot := filepath.Join(dir, "snapshot.frz")
	_, err = runApp(t, "build", "--out", snapshot, "--model-id", "1001", input)
	require.NoError(t, err)

	key, value, ok := strings.Cut(lines[17], ":")
	require.True(t, ok)
	out, err := runApp(t, "get", snapshot, key)
	require.NoError(t, err)
	assert.Equal(t, key+":"+value+"\n", out)

	_, err = runApp(t, "get", snapshot, "missing")
	assert.True(t, errors.Is(err, errNotFound))

	out, err = runApp(t, "dump", snapshot)
	require.NoError(t, err)
	assert.Contains(t, out, "models=[<1001:1>] entries=100")
}

func TestGen_DistinctHashes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large gen in short mode")
	}
	// enough keys that a 32-bit hash collision is all but certain
	const n = 200000

	var out bytes.Buffer
	require.NoError(t, gen(&out, n, 42))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, n)

	hashes := make(map[uint32]struct{}, n)
	for _, line := range lines {
		key, _, ok := strings.Cut(line, ":")
		require.True(t, ok)
		kh := frozen.Hash([]byte(key))
		_, dup := hashes[kh]
		require.False(t, dup, "hash of %q already seen", key)
		hashes[kh] = struct{}{}
	}

	input := filepath.Join(t.TempDir(), "pairs.txt")
	require.NoError(t, os.WriteFile(input, out.Bytes(), 0644))
	snapshot := filepath.Join(t.TempDir(), "snapshot.frz")
	_, err := runApp(t, "build", "--out", snapshot, input)
	require.NoError(t, err)

	key, value, _ := strings.Cut(lines[n-1], ":")
	got, err := runApp(t, "get", snapshot, key)
	require.NoError(t, err)
	assert.Equal(t, key+":"+value+"\n", got)
}

func TestCheckpointDump(t *testing.T) {
	dir := t.TempDir()

	input := filepath.Join(dir, "pairs.txt")
	require.NoError(t, os.WriteFile(input, []byte("a:1\nbb:22\n"), 0644))
	ckpt := filepath.Join(dir, "table.ckpt")

	_, err := runApp(t, "checkpoint", "--path", ckpt, input)
	require.NoError(t, err)

	out, err := runApp(t, "dump", "--format", "sequential", ckpt)
	require.NoError(t, err)
	assert.Equal(t, "# sequential map_entries=2 vec_entries=2 records=2\na:1\nbb:22\n", out)

	// restoring and adding more keeps the earlier ones
	more := filepath.Join(dir, "more.txt")
	require.NoError(t, os.WriteFile(more, []byte("ccc:333\n"), 0644))
	_, err = runApp(t, "checkpoint", "--path", ckpt, "--restore", more)
	require.NoError(t, err)

	out, err = runApp(t, "get", "--format", "sequential", ckpt, "a", "ccc")
	require.NoError(t, err)
	assert.Equal(t, "a:1\nccc:333\n", out)
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BITSNAP_SNAPSHOT_DIR", dir)
	t.Setenv("BITSNAP_ROTATE_ENTRIES", "20")
	t.Setenv("BITSNAP_ROTATE_INTERVAL", "1ms")

	_, err := runApp(t, "rotate", "--cycles", "3")
	require.NoError(t, err)

	target, err := manifest.Read(filepath.Join(dir, "current"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "snapshot.0"), target)

	out, err := runApp(t, "get", target, "item-3")
	require.NoError(t, err)
	assert.Equal(t, "item-3:model=1001 version=3 item=3\n", out)
}

func TestBadConfig(t *testing.T) {
	t.Setenv("BITSNAP_SNAPSHOT_FORMAT", "csv")
	_, err := runApp(t, "dump", "whatever")
	assert.Error(t, err)
}
