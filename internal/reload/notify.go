// Copyright 2026 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package reload

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// notifier turns filesystem events for a small set of files into
// non-blocking wake-ups.  It watches parent directories rather than the
// files, since publication replaces files by rename.
type notifier struct {
	w      *fsnotify.Watcher
	wake   chan struct{}
	logger *slog.Logger

	mu    sync.Mutex
	dirs  map[string]struct{}
	files map[string]struct{}
}

func newNotifier(logger *slog.Logger) (*notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	n := &notifier{
		w:      w,
		wake:   make(chan struct{}, 1),
		logger: logger,
		dirs:   make(map[string]struct{}),
		files:  make(map[string]struct{}),
	}
	go n.loop()
	return n, nil
}

// track replaces the set of files that trigger wake-ups.
func (n *notifier) track(paths ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.files = make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		n.files[p] = struct{}{}

		dir := filepath.Dir(p)
		if _, ok := n.dirs[dir]; ok {
			continue
		}
		if err := n.w.Add(dir); err != nil {
			n.logger.Warn("failed to watch directory, relying on polling",
				"path", dir,
				"error", err,
			)
			continue
		}
		n.dirs[dir] = struct{}{}
		n.logger.Debug("watching directory for changes", "path", dir, "file", filepath.Base(p))
	}
}

func (n *notifier) interesting(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.files[filepath.Clean(name)]
	return ok
}

func (n *notifier) loop() {
	for {
		select {
		case event, ok := <-n.w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !n.interesting(event.Name) {
				continue
			}
			n.logger.Debug("snapshot file changed", "file", event.Name, "op", event.Op.String())
			select {
			case n.wake <- struct{}{}:
			default:
			}
		case err, ok := <-n.w.Errors:
			if !ok {
				return
			}
			n.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (n *notifier) close() error {
	return n.w.Close()
}
