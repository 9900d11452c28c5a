// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package rotate periodically builds new frozen snapshots into a fixed
// set of slot files and points the manifest at each one as it lands.
package rotate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bpowers/bitsnap"
	"github.com/bpowers/bitsnap/internal/frozen"
	"github.com/bpowers/bitsnap/internal/manifest"
	"github.com/bpowers/bitsnap/internal/metrics"
)

// Config describes where and how often snapshots are produced.
type Config struct {
	// Dir holds the slot files, named Base.0 through Base.<Slots-1>.
	Dir  string
	Base string
	// Manifest is the file pointed at each newly built slot.
	Manifest string

	ModelID uint32
	Slots   int
	// Cycles bounds the number of snapshots built; zero means no bound.
	Cycles   int
	Interval time.Duration
	// TargetSize pads every snapshot to at least this many bytes.
	TargetSize int64
	// Entries is the size of the generated dataset when no Source is set.
	Entries int
}

func (c Config) validate() error {
	switch {
	case c.Dir == "":
		return errors.New("rotate: Dir is required")
	case c.Base == "":
		return errors.New("rotate: Base is required")
	case c.Manifest == "":
		return errors.New("rotate: Manifest is required")
	case c.ModelID == 0:
		return errors.New("rotate: ModelID must be non-zero")
	case c.Slots < 1:
		return fmt.Errorf("rotate: need at least one slot, got %d", c.Slots)
	case c.Cycles < 0:
		return fmt.Errorf("rotate: bad cycle count %d", c.Cycles)
	case c.Interval < 0:
		return fmt.Errorf("rotate: bad interval %s", c.Interval)
	}
	return nil
}

// SlotPath returns the file that holds slot.
func (c Config) SlotPath(slot int) string {
	return filepath.Join(c.Dir, c.Base+"."+strconv.Itoa(slot))
}

// Entry is a single key/value pair destined for a snapshot.
type Entry struct {
	Key   []byte
	Value []byte
}

// Source produces the contents of the snapshot for a model version.
type Source interface {
	Entries(version uint32) ([]Entry, error)
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithSource replaces the default SyntheticSource.
func WithSource(src Source) Option {
	return func(r *Rotator) {
		r.src = src
	}
}

// WithLogger sets an optional logger for rotation progress.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rotator) {
		r.logger = logger
	}
}

// WithMetrics reports rotations to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Rotator) {
		r.metrics = m
	}
}

// Rotator builds and publishes snapshots.
type Rotator struct {
	cfg     Config
	src     Source
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Rotator for cfg.
func New(cfg Config, opts ...Option) (*Rotator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Rotator{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.src == nil {
		r.src = SyntheticSource{ModelID: cfg.ModelID, Count: cfg.Entries}
	}
	return r, nil
}

// Run builds and publishes snapshots for versions 1, 2, ... every
// Interval until ctx is done or Cycles snapshots have been published.
// Any build or publish failure stops the loop and is returned.
func (r *Rotator) Run(ctx context.Context) error {
	r.logger.Info("starting rotation",
		"dir", r.cfg.Dir,
		"manifest", r.cfg.Manifest,
		"slots", r.cfg.Slots,
		"cycles", r.cfg.Cycles,
		"interval", r.cfg.Interval,
	)

	for i := 0; r.cfg.Cycles == 0 || i < r.cfg.Cycles; i++ {
		if err := ctx.Err(); err != nil {
			return nil
		}

		version := uint32(i + 1)
		if _, err := r.Publish(ctx, version); err != nil {
			r.logger.Error("rotation failed", "version", version, "error", err)
			return err
		}

		if r.cfg.Cycles != 0 && i+1 == r.cfg.Cycles {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.cfg.Interval):
		}
	}

	r.logger.Info("rotation finished", "cycles", r.cfg.Cycles)
	return nil
}

// Publish builds the snapshot for version into its slot and points the
// manifest at it.  It returns the slot path.
func (r *Rotator) Publish(ctx context.Context, version uint32) (string, error) {
	if version == 0 {
		return "", fmt.Errorf("rotate: version must be non-zero")
	}
	slot := int(version-1) % r.cfg.Slots
	path := r.cfg.SlotPath(slot)

	err := r.build(ctx, path, version)
	if err == nil {
		err = manifest.Publish(r.cfg.Manifest, path)
		if err != nil {
			err = fmt.Errorf("manifest.Publish: %w", err)
		}
	}
	r.metrics.ObserveRotation(version, err)
	if err != nil {
		return "", err
	}

	r.logger.Info("published snapshot", "version", version, "slot", slot, "path", path)
	return path, nil
}

func (r *Rotator) build(ctx context.Context, path string, version uint32) error {
	entries, err := r.src.Entries(version)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	b, err := bitsnap.NewBuilder(path,
		bitsnap.WithModels(bitsnap.Model{ID: r.cfg.ModelID, Version: version}),
		bitsnap.WithMinSize(r.cfg.TargetSize),
		bitsnap.WithBuilderLogger(r.logger),
	)
	if err != nil {
		return fmt.Errorf("bitsnap.NewBuilder: %w", err)
	}

	collisions := 0
	for i, e := range entries {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		err := b.Put(e.Key, e.Value)
		if errors.Is(err, frozen.ErrHashCollision) {
			collisions++
			continue
		} else if err != nil {
			return fmt.Errorf("put %q: %w", e.Key, err)
		}
	}
	if collisions > 0 {
		r.logger.Warn("dropped keys with colliding hashes", "version", version, "dropped", collisions)
	}

	if err := b.Finalize(); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}

// SyntheticSource generates a deterministic dataset whose values name
// the model and version they were built for.
type SyntheticSource struct {
	ModelID uint32
	Count   int
}

// Entries implements Source.
func (s SyntheticSource) Entries(version uint32) ([]Entry, error) {
	if s.Count < 0 {
		return nil, fmt.Errorf("synthetic source: bad entry count %d", s.Count)
	}
	entries := make([]Entry, 0, s.Count)
	for i := 0; i < s.Count; i++ {
		entries = append(entries, Entry{
			Key:   SyntheticKey(i),
			Value: SyntheticValue(s.ModelID, version, i),
		})
	}
	return entries, nil
}

// SyntheticKey is the key of the i-th synthetic entry.
func SyntheticKey(i int) []byte {
	return []byte("item-" + strconv.Itoa(i))
}

// SyntheticValue is the value of the i-th synthetic entry for a model
// version.
func SyntheticValue(modelID, version uint32, i int) []byte {
	return []byte(fmt.Sprintf("model=%d version=%d item=%d", modelID, version, i))
}
