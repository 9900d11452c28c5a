// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package manifest reads and atomically replaces the small text file
// naming the snapshot that readers should serve.
package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmpty is returned by Read when the manifest names no snapshot.
var ErrEmpty = errors.New("manifest is empty")

// Publish points the manifest at target.  The new contents are written
// to a temporary file next to the manifest and renamed over it, so a
// concurrent Read sees either the old or the new target, never a mix.
func Publish(manifestPath, target string) error {
	if strings.ContainsAny(target, "\r\n") || strings.TrimSpace(target) == "" {
		return fmt.Errorf("manifest: bad target %q", target)
	}

	dir, base := filepath.Split(manifestPath)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, base+".tmp*")
	if err != nil {
		return fmt.Errorf("os.CreateTemp: %w", err)
	}
	tmpPath := f.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpPath)
	}()

	if _, err := f.WriteString(target + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("f.WriteString: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("f.Sync: %w", err)
	}
	if err := f.Chmod(0644); err != nil {
		_ = f.Close()
		return fmt.Errorf("f.Chmod: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("f.Close: %w", err)
	}
	if err := os.Rename(tmpPath, manifestPath); err != nil {
		return fmt.Errorf("os.Rename: %w", err)
	}
	return nil
}

// Read returns the first non-empty line of the manifest, with
// surrounding whitespace removed.
func Read(manifestPath string) (string, error) {
	contents, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", err
	}
	s := bufio.NewScanner(bytes.NewReader(contents))
	for s.Scan() {
		if line := strings.TrimSpace(s.Text()); line != "" {
			return line, nil
		}
	}
	if err := s.Err(); err != nil {
		return "", fmt.Errorf("manifest %s: %w", manifestPath, err)
	}
	return "", fmt.Errorf("%s: %w", manifestPath, ErrEmpty)
}
