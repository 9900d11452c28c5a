// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package reload serves lookups from the snapshot named by a manifest
// file, swapping in new snapshots as the manifest or the snapshot file
// changes without disturbing concurrent readers.
package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"

	"github.com/bpowers/bitsnap/internal/manifest"
	"github.com/bpowers/bitsnap/internal/metrics"
	"github.com/bpowers/bitsnap/internal/ondisk"
)

// DefaultPollInterval is how often the manifest is checked for changes.
const DefaultPollInterval = time.Second

var (
	ErrClosed      = errors.New("reload: controller closed")
	ErrEmptyTarget = errors.New("reload: snapshot file is empty")
)

// State is the controller's lifecycle state.
type State int32

const (
	// Idle means no snapshot is loaded.
	Idle State = iota
	// Loaded means a snapshot is serving lookups.
	Loaded
	// Reloading means a new snapshot is being loaded; lookups are still
	// served by the previous one, if any.
	Reloading
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Reloading:
		return "reloading"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.interval = d
	}
}

// WithLogger sets an optional logger for load and swap reports.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithMetrics reports load attempts to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithNotify makes Run wake up on filesystem change notifications in
// addition to the poll interval.
func WithNotify(enabled bool) Option {
	return func(c *Controller) {
		c.notify = enabled
	}
}

// Controller tracks the snapshot named by a manifest.  Lookups may be
// issued from any number of goroutines; Poll and Run are the only
// writers of the active snapshot.
type Controller struct {
	manifest string
	load     Loader
	interval time.Duration
	notify   bool
	logger   *slog.Logger
	metrics  *metrics.Metrics

	cur   atomic.Pointer[handle]
	state atomic.Int32

	// guards everything below, and serializes polls
	mu           sync.Mutex
	closed       bool
	generation   uint64
	manifestInfo os.FileInfo
	target       string
	targetInfo   os.FileInfo

	// the last file that failed to load because of its contents, which
	// isn't retried until it changes
	badInfo os.FileInfo
	badErr  error
}

// New returns an idle Controller for the manifest at manifestPath.
// Nothing is loaded until the first Poll.
func New(manifestPath string, load Loader, opts ...Option) *Controller {
	c := &Controller{
		manifest: manifestPath,
		load:     load,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = orDiscard(c.logger)
	if c.interval <= 0 {
		c.interval = DefaultPollInterval
	}
	return c
}

// State returns the controller's current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) acquire() *handle {
	for {
		h := c.cur.Load()
		if h == nil {
			return nil
		}
		if h.acquire() {
			return h
		}
		// h was retired after we loaded it, which only happens once
		// cur has moved on; try again with the new value
	}
}

// Lookup returns a copy of the value stored for key in the active
// snapshot.  It misses when nothing is loaded.
func (c *Controller) Lookup(key []byte) ([]byte, bool) {
	h := c.acquire()
	if h == nil {
		return nil, false
	}
	defer h.release()

	v, ok := h.snap.Lookup(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// View calls fn with the active snapshot, which stays mapped until fn
// returns.  Slices obtained from it must not escape fn.  View returns
// false without calling fn when nothing is loaded.
func (c *Controller) View(fn func(s Snapshot, v Version)) bool {
	h := c.acquire()
	if h == nil {
		return false
	}
	defer h.release()

	fn(h.snap, h.version)
	return true
}

// CurrentVersion identifies the active snapshot.
func (c *Controller) CurrentVersion() (Version, bool) {
	h := c.acquire()
	if h == nil {
		return Version{}, false
	}
	defer h.release()
	return h.version, true
}

func sameStamp(a, b os.FileInfo) bool {
	if a == nil || b == nil {
		return false
	}
	return os.SameFile(a, b) && a.ModTime().Equal(b.ModTime()) && a.Size() == b.Size()
}

// Poll checks the manifest and the snapshot it names once, and loads
// the snapshot if it is new or has changed since it was loaded.  On
// any failure the previously loaded snapshot keeps serving lookups;
// the error is returned for the caller's information.
func (c *Controller) Poll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	mfi, err := os.Stat(c.manifest)
	if err != nil {
		c.logger.Warn("manifest unavailable", "path", c.manifest, "error", err)
		return fmt.Errorf("os.Stat(%s): %w", c.manifest, err)
	}

	target := c.target
	if c.target == "" || !sameStamp(c.manifestInfo, mfi) {
		t, err := manifest.Read(c.manifest)
		if err != nil {
			c.logger.Warn("manifest unreadable", "path", c.manifest, "error", err)
			return fmt.Errorf("manifest.Read: %w", err)
		}
		if !filepath.IsAbs(t) {
			t = filepath.Join(filepath.Dir(c.manifest), t)
		}
		target = t
	}

	tfi, err := os.Stat(target)
	if err != nil {
		c.logger.Warn("snapshot unavailable", "path", target, "error", err)
		return fmt.Errorf("os.Stat(%s): %w", target, err)
	}
	if tfi.Size() == 0 {
		c.logger.Warn("snapshot file is empty", "path", target)
		return fmt.Errorf("%s: %w", target, ErrEmptyTarget)
	}

	// only remember the manifest once its target has been resolved, so
	// a manifest naming a not-yet-present file is re-read next tick
	c.manifestInfo = mfi
	c.target = target

	if c.cur.Load() != nil && sameStamp(c.targetInfo, tfi) {
		return nil
	}
	if sameStamp(c.badInfo, tfi) {
		return c.badErr
	}

	return c.reload(target, tfi)
}

func (c *Controller) reload(path string, fi os.FileInfo) error {
	prev := c.State()
	c.state.Store(int32(Reloading))

	begin := time.Now()
	snap, err := c.load(path)
	cost := time.Since(begin)
	if err != nil {
		c.state.Store(int32(prev))
		if isContentError(err) {
			c.badInfo, c.badErr = fi, err
		}
		c.metrics.ObserveLoad(cost, c.generation, 0, err)
		c.logger.Warn("snapshot load failed, keeping previous",
			"path", path,
			"state", prev,
			"error", err,
		)
		return err
	}

	c.generation++
	version := Version{
		Generation:  c.generation,
		LoadID:      ulid.Make(),
		Path:        path,
		ModTime:     fi.ModTime(),
		Size:        fi.Size(),
		Description: snap.Describe(),
	}
	old := c.cur.Swap(newHandle(snap, version))
	c.targetInfo = fi
	c.badInfo, c.badErr = nil, nil
	c.state.Store(int32(Loaded))
	c.metrics.ObserveLoad(cost, c.generation, fi.Size(), nil)

	c.logger.Info("swapped snapshot",
		"path", path,
		"generation", version.Generation,
		"load_id", version.LoadID.String(),
		"snapshot", version.Description,
		"size", humanize.IBytes(uint64(fi.Size())),
		"cost", cost,
	)

	if old != nil {
		old.release()
	}
	return nil
}

func isContentError(err error) bool {
	return errors.Is(err, ondisk.ErrFormat) || errors.Is(err, ondisk.ErrValidation) || errors.Is(err, ondisk.ErrTruncated)
}

// Run polls immediately and then on every tick until ctx is done.  With
// WithNotify, changes to the manifest or the active snapshot file also
// trigger a poll right away.  Poll failures are logged and retried on
// the next tick; Run only returns once ctx is done or the controller is
// closed.
func (c *Controller) Run(ctx context.Context) error {
	var wake <-chan struct{}
	var n *notifier
	if c.notify {
		var err error
		if n, err = newNotifier(c.logger); err != nil {
			c.logger.Warn("file notifications unavailable, polling only", "error", err)
		} else {
			defer func() {
				_ = n.close()
			}()
			wake = n.wake
			n.track(c.manifest)
		}
	}

	poll := func() bool {
		err := c.Poll()
		if n != nil {
			c.mu.Lock()
			n.track(c.manifest, c.target)
			c.mu.Unlock()
		}
		return !errors.Is(err, ErrClosed)
	}

	c.logger.Info("watching manifest", "path", c.manifest, "interval", c.interval, "notify", n != nil)
	if !poll() {
		return nil
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopped watching manifest", "path", c.manifest)
			return nil
		case <-ticker.C:
		case <-wake:
		}
		if !poll() {
			return nil
		}
	}
}

// Close releases the active snapshot and makes further polls fail with
// ErrClosed.  The mapping is released once in-flight lookups finish.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.state.Store(int32(Idle))
	if h := c.cur.Swap(nil); h != nil {
		h.release()
	}
	return nil
}
