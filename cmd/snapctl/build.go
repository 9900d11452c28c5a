// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/bpowers/bitsnap"
	"github.com/bpowers/bitsnap/internal/frozen"
)

const (
	genPrefix    = "pref_"
	genSuffixLen = 16
	genHMACKey   = "d259c7f656caf7f1"
)

func genCommand() *cli.Command {
	return &cli.Command{
		Name:  "gen",
		Usage: "write random key:value lines, suitable for build",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1000000, Usage: "number of pairs"},
			&cli.Int64Flag{Name: "seed", Usage: "random seed (0 picks one)"},
		},
		Action: func(c *cli.Context) error {
			return gen(c.App.Writer, c.Int("count"), c.Int64("seed"))
		},
	}
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		var seedBytes [8]byte
		_, _ = crand.Read(seedBytes[:])
		seed = int64(binary.LittleEndian.Uint64(seedBytes[:]))
	}
	return rand.New(rand.NewSource(seed))
}

func gen(out io.Writer, n int, seed int64) error {
	rng := newRand(seed)
	h := hmac.New(sha256.New, []byte(genHMACKey))
	w := bufio.NewWriter(out)

	// frozen snapshots reject keys whose hashes collide, so those are
	// skipped to keep the output buildable
	seen := make(map[uint32]struct{}, n)
	for len(seen) < n {
		var buf [genSuffixLen / 2]byte
		if _, err := rng.Read(buf[:]); err != nil {
			return err
		}
		value := fmt.Sprintf("%s%x", genPrefix, buf)
		h.Reset()
		h.Write([]byte(value))
		key := hex.EncodeToString(h.Sum(nil))

		kh := frozen.Hash([]byte(key))
		if _, ok := seen[kh]; ok {
			continue
		}
		seen[kh] = struct{}{}

		if _, err := fmt.Fprintf(w, "%s:%s\n", key, value); err != nil {
			return err
		}
	}
	return w.Flush()
}

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "build a frozen snapshot from key:value lines",
		ArgsUsage: "[input file, or stdin]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true, Usage: "snapshot path"},
			&cli.UintFlag{Name: "model-id", Usage: "model id (default rotate.model_id)"},
			&cli.UintFlag{Name: "model-version", Value: 1, Usage: "model version"},
			&cli.Int64Flag{Name: "min-size", Usage: "pad the snapshot to at least this many bytes"},
			&cli.StringFlag{Name: "sep", Value: ":", Usage: "key/value separator"},
		},
		Action: func(c *cli.Context) error {
			cfg := getConfig(c)
			logger := getLogger(c)

			sep := c.String("sep")
			if len(sep) != 1 {
				return errors.New("--sep must be a single byte")
			}
			modelID := uint32(c.Uint("model-id"))
			if modelID == 0 {
				modelID = cfg.Rotate.ModelID
			}

			in := io.Reader(os.Stdin)
			if path := c.Args().First(); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer func() {
					_ = f.Close()
				}()
				in = f
			}

			b, err := bitsnap.NewBuilder(c.String("out"),
				bitsnap.WithModels(bitsnap.Model{ID: modelID, Version: uint32(c.Uint("model-version"))}),
				bitsnap.WithMinSize(c.Int64("min-size")),
				bitsnap.WithBuilderLogger(logger),
			)
			if err != nil {
				return err
			}
			if _, err := b.PutLines(in, sep[0]); err != nil {
				return err
			}
			return b.Finalize()
		},
	}
}
