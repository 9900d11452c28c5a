// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/bpowers/bitsnap/internal/config"
	"github.com/bpowers/bitsnap/internal/frozen"
	"github.com/bpowers/bitsnap/internal/reload"
	"github.com/bpowers/bitsnap/internal/seqfile"
)

var errNotFound = errors.New("key not found")

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "format",
		Usage: "snapshot format, frozen or sequential (default snapshot.format)",
	}
}

func loaderFor(c *cli.Context) (reload.Loader, error) {
	format := c.String("format")
	if format == "" {
		format = getConfig(c).Snapshot.Format
	}
	switch format {
	case config.FormatFrozen:
		return reload.FrozenLoader(getLogger(c)), nil
	case config.FormatSequential:
		return reload.SequentialLoader(getLogger(c)), nil
	}
	return nil, fmt.Errorf("unknown snapshot format %q", format)
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "look keys up in a snapshot file",
		ArgsUsage: "<snapshot> <key>...",
		Flags:     []cli.Flag{formatFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return errors.New("need a snapshot path and at least one key")
			}
			load, err := loaderFor(c)
			if err != nil {
				return err
			}
			snap, err := load(c.Args().First())
			if err != nil {
				return err
			}
			defer func() {
				_ = snap.Close()
			}()

			var missing []string
			for _, key := range c.Args().Tail() {
				v, ok := snap.Lookup([]byte(key))
				if !ok {
					missing = append(missing, key)
					continue
				}
				fmt.Fprintf(c.App.Writer, "%s:%s\n", key, v)
			}
			if len(missing) > 0 {
				return fmt.Errorf("%w: %q", errNotFound, missing)
			}
			return nil
		},
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "describe a snapshot file; sequential files also print their records",
		ArgsUsage: "<snapshot>",
		Flags:     []cli.Flag{formatFlag()},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return errors.New("need a snapshot path")
			}
			format := c.String("format")
			if format == "" {
				format = getConfig(c).Snapshot.Format
			}

			w := bufio.NewWriter(c.App.Writer)
			defer func() {
				_ = w.Flush()
			}()

			switch format {
			case config.FormatFrozen:
				r, err := frozen.Open(path, frozen.WithLogger(getLogger(c)))
				if err != nil {
					return err
				}
				defer func() {
					_ = r.Close()
				}()
				fmt.Fprintf(w, "%s\n", r.Describe())
			case config.FormatSequential:
				s, err := seqfile.Read(path, seqfile.WithLogger(getLogger(c)))
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "# %s\n", s.Describe())
				for _, r := range s.Records {
					fmt.Fprintf(w, "%s:%s\n", r.Key, r.Value)
				}
			default:
				return fmt.Errorf("unknown snapshot format %q", format)
			}
			return nil
		},
	}
}
