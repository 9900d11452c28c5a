// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package config loads snapctl's settings.  Values come from, in
// increasing priority: Default, an optional YAML file, and BITSNAP_*
// environment variables (BITSNAP_RELOAD_POLL_INTERVAL sets
// reload.poll_interval).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bpowers/bitsnap/internal/reload"
	"github.com/bpowers/bitsnap/internal/seqfile"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "BITSNAP_"

// Snapshot formats.
const (
	FormatFrozen     = "frozen"
	FormatSequential = "sequential"
)

type Config struct {
	Log        LogSection        `koanf:"log"`
	Snapshot   SnapshotSection   `koanf:"snapshot"`
	Rotate     RotateSection     `koanf:"rotate"`
	Reload     ReloadSection     `koanf:"reload"`
	Checkpoint CheckpointSection `koanf:"checkpoint"`
	Metrics    MetricsSection    `koanf:"metrics"`
}

type LogSection struct {
	// Level is one of debug, info, warn or error.
	Level string `koanf:"level"`
	// Format is text or json.
	Format string `koanf:"format"`
}

type SnapshotSection struct {
	Dir      string `koanf:"dir"`
	Base     string `koanf:"base"`
	Manifest string `koanf:"manifest"`
	// Format is the format of the files the manifest points at.
	Format string `koanf:"format"`
}

type RotateSection struct {
	ModelID    uint32        `koanf:"model_id"`
	Slots      int           `koanf:"slots"`
	Cycles     int           `koanf:"cycles"`
	Interval   time.Duration `koanf:"interval"`
	TargetSize int64         `koanf:"target_size"`
	Entries    int           `koanf:"entries"`
}

type ReloadSection struct {
	PollInterval time.Duration `koanf:"poll_interval"`
	Notify       bool          `koanf:"notify"`
}

type CheckpointSection struct {
	Path     string        `koanf:"path"`
	Interval time.Duration `koanf:"interval"`
	MinSize  int64         `koanf:"min_size"`
}

type MetricsSection struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `koanf:"addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Log: LogSection{
			Level:  "info",
			Format: "text",
		},
		Snapshot: SnapshotSection{
			Dir:      ".",
			Base:     "snapshot",
			Manifest: "current",
			Format:   FormatFrozen,
		},
		Rotate: RotateSection{
			ModelID:  1001,
			Slots:    2,
			Interval: 10 * time.Second,
			Entries:  10000,
		},
		Reload: ReloadSection{
			PollInterval: reload.DefaultPollInterval,
			Notify:       true,
		},
		Checkpoint: CheckpointSection{
			Path:     "table.ckpt",
			Interval: 10 * time.Second,
			MinSize:  seqfile.DefaultMinFileSize,
		},
	}
}

// Load returns Default overlaid with the YAML file at path (if path is
// non-empty) and then with the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", path, err)
		}
	}

	// BITSNAP_SECTION_SOME_KEY -> section.some_key
	envTransformer := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		section, key, ok := strings.Cut(s, "_")
		if !ok {
			return s
		}
		return section + "." + key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate reports settings that can't work.
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	switch c.Snapshot.Format {
	case FormatFrozen, FormatSequential:
	default:
		errs = append(errs, fmt.Errorf("snapshot.format: unknown format %q", c.Snapshot.Format))
	}
	if c.Snapshot.Manifest == "" {
		errs = append(errs, errors.New("snapshot.manifest is required"))
	}
	if c.Rotate.ModelID == 0 {
		errs = append(errs, errors.New("rotate.model_id must be non-zero"))
	}
	if c.Rotate.Slots < 1 {
		errs = append(errs, fmt.Errorf("rotate.slots must be at least 1, got %d", c.Rotate.Slots))
	}
	if c.Rotate.Cycles < 0 {
		errs = append(errs, fmt.Errorf("rotate.cycles must not be negative, got %d", c.Rotate.Cycles))
	}
	if c.Rotate.Entries < 0 {
		errs = append(errs, fmt.Errorf("rotate.entries must not be negative, got %d", c.Rotate.Entries))
	}
	if c.Reload.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("reload.poll_interval must be positive, got %s", c.Reload.PollInterval))
	}
	if c.Checkpoint.Interval <= 0 {
		errs = append(errs, fmt.Errorf("checkpoint.interval must be positive, got %s", c.Checkpoint.Interval))
	}
	return errors.Join(errs...)
}
