// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/bpowers/bitsnap"
	"github.com/bpowers/bitsnap/internal/checkpoint"
	"github.com/bpowers/bitsnap/internal/config"
	"github.com/bpowers/bitsnap/internal/reload"
	"github.com/bpowers/bitsnap/internal/rotate"
)

func manifestPath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Snapshot.Manifest) {
		return cfg.Snapshot.Manifest
	}
	return filepath.Join(cfg.Snapshot.Dir, cfg.Snapshot.Manifest)
}

// withMetricsServer runs fn, and the metrics server when addr is set,
// under one errgroup.  The server is stopped once fn returns.
func withMetricsServer(c *cli.Context, fn func(ctx context.Context) error) error {
	cfg := getConfig(c)
	logger := getLogger(c)

	ctx, stop := signalContext(c.Context)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		return fn(ctx)
	})
	if cfg.Metrics.Addr != "" {
		_, registry := metricsFor(c)
		g.Go(func() error {
			return serveMetrics(serverCtx, cfg.Metrics.Addr, registry, logger)
		})
	}
	return g.Wait()
}

func rotateCommand() *cli.Command {
	return &cli.Command{
		Name:  "rotate",
		Usage: "periodically build synthetic snapshots and publish them through the manifest",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "cycles", Value: -1, Usage: "override rotate.cycles (0 runs forever)"},
		},
		Action: func(c *cli.Context) error {
			cfg := getConfig(c)
			rc := rotate.Config{
				Dir:        cfg.Snapshot.Dir,
				Base:       cfg.Snapshot.Base,
				Manifest:   manifestPath(cfg),
				ModelID:    cfg.Rotate.ModelID,
				Slots:      cfg.Rotate.Slots,
				Cycles:     cfg.Rotate.Cycles,
				Interval:   cfg.Rotate.Interval,
				TargetSize: cfg.Rotate.TargetSize,
				Entries:    cfg.Rotate.Entries,
			}
			if cycles := c.Int("cycles"); cycles >= 0 {
				rc.Cycles = cycles
			}

			m, _ := metricsFor(c)
			r, err := rotate.New(rc, rotate.WithLogger(getLogger(c)), rotate.WithMetrics(m))
			if err != nil {
				return err
			}
			return withMetricsServer(c, r.Run)
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "follow the manifest, hot-reloading snapshots, and optionally probe a key",
		Flags: []cli.Flag{
			formatFlag(),
			&cli.StringFlag{Name: "probe", Usage: "key to look up on every report"},
			&cli.DurationFlag{Name: "report", Value: 5 * time.Second, Usage: "how often to report the active snapshot"},
		},
		Action: func(c *cli.Context) error {
			cfg := getConfig(c)
			logger := getLogger(c)
			load, err := loaderFor(c)
			if err != nil {
				return err
			}

			m, _ := metricsFor(c)
			ctl := reload.New(manifestPath(cfg), load,
				reload.WithPollInterval(cfg.Reload.PollInterval),
				reload.WithNotify(cfg.Reload.Notify),
				reload.WithLogger(logger),
				reload.WithMetrics(m),
			)
			defer func() {
				_ = ctl.Close()
			}()

			probe := c.String("probe")
			interval := c.Duration("report")
			return withMetricsServer(c, func(ctx context.Context) error {
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return ctl.Run(ctx)
				})
				g.Go(func() error {
					report(ctx, ctl, probe, interval, c.App.Writer)
					return nil
				})
				return g.Wait()
			})
		},
	}
}

func report(ctx context.Context, ctl *reload.Controller, probe string, interval time.Duration, w io.Writer) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		v, ok := ctl.CurrentVersion()
		if !ok {
			fmt.Fprintf(w, "state=%s\n", ctl.State())
			continue
		}
		line := fmt.Sprintf("state=%s generation=%d load_id=%s path=%s snapshot=%q",
			ctl.State(), v.Generation, v.LoadID, v.Path, v.Description)
		if probe != "" {
			if value, ok := ctl.Lookup([]byte(probe)); ok {
				line += fmt.Sprintf(" %s=%s", probe, value)
			} else {
				line += fmt.Sprintf(" %s=<missing>", probe)
			}
		}
		fmt.Fprintln(w, line)
	}
}

func checkpointCommand() *cli.Command {
	return &cli.Command{
		Name:      "checkpoint",
		Usage:     "load key:value lines into a table and checkpoint it to a sequential snapshot",
		ArgsUsage: "[input file, or stdin]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "checkpoint file (default checkpoint.path)"},
			&cli.BoolFlag{Name: "restore", Usage: "start from the existing checkpoint file"},
			&cli.BoolFlag{Name: "continuous", Usage: "keep checkpointing every checkpoint.interval until interrupted"},
		},
		Action: func(c *cli.Context) error {
			cfg := getConfig(c)
			logger := getLogger(c)

			path := c.String("path")
			if path == "" {
				path = cfg.Checkpoint.Path
			}

			m, _ := metricsFor(c)
			tbl := checkpoint.New(
				checkpoint.WithLogger(logger),
				checkpoint.WithMinSize(cfg.Checkpoint.MinSize),
				checkpoint.WithMetrics(m),
			)
			if c.Bool("restore") {
				truncated, err := tbl.Restore(path)
				if err != nil {
					return err
				}
				logger.Info("restored table", "path", path, "keys", tbl.Len(), "truncated", truncated)
			}

			if in := c.Args().First(); in != "" || !c.Bool("restore") {
				if err := loadLines(tbl, in); err != nil {
					return err
				}
			}

			if !c.Bool("continuous") {
				return tbl.Checkpoint(path)
			}
			return withMetricsServer(c, func(ctx context.Context) error {
				return tbl.Run(ctx, path, cfg.Checkpoint.Interval)
			})
		},
	}
}

func loadLines(tbl *checkpoint.Table, path string) error {
	in := io.Reader(os.Stdin)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		in = f
	}
	_, err := bitsnap.ReadPairs(in, ':', func(k, v []byte) error {
		tbl.Set(string(k), v)
		return nil
	})
	return err
}
