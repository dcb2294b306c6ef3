// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watcher debounces filesystem change notifications into
// reindex triggers for the dev loop.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config configures a watcher.
type Config struct {
	// Dirs are watched recursively.
	Dirs []string
	// Ignore drops events under these directory prefixes. The state
	// dir belongs here so mirror writes do not retrigger the loop.
	Ignore []string
	// Debounce is the quiet period before a change batch fires.
	// Defaults to 400ms.
	Debounce time.Duration
}

// Watcher coalesces rapid file events into change batches.
type Watcher struct {
	watcher  *fsnotify.Watcher
	cfg      Config
	changes  chan []string
	cancel   context.CancelFunc
	mu       sync.Mutex
	watching bool
	logger   *slog.Logger
}

// New creates a watcher over the configured directories.
func New(cfg Config, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 400 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		watcher: fsw,
		cfg:     cfg,
		changes: make(chan []string, 8),
		logger:  logger,
	}, nil
}

// Start begins watching and returns the change batch channel. Each
// batch holds the paths that changed during one quiet period.
func (w *Watcher) Start(ctx context.Context) (<-chan []string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return w.changes, nil
	}

	ctx, w.cancel = context.WithCancel(ctx)
	for _, dir := range w.cfg.Dirs {
		if err := w.addRecursive(dir); err != nil {
			w.cancel()
			return nil, err
		}
	}
	w.watching = true
	go w.loop(ctx)
	w.logger.Info("watching for changes", "dirs", w.cfg.Dirs)
	return w.changes, nil
}

// Stop stops watching and closes the change channel.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return nil
	}
	w.cancel()
	w.watching = false
	err := w.watcher.Close()
	close(w.changes)
	return err
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) || (strings.HasPrefix(d.Name(), ".") && path != dir) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	for _, prefix := range w.cfg.Ignore {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop(ctx context.Context) {
	pending := make(map[string]struct{})
	var pendingMu sync.Mutex
	var debounce *time.Timer

	flush := func() {
		pendingMu.Lock()
		if len(pending) == 0 {
			pendingMu.Unlock()
			return
		}
		batch := make([]string, 0, len(pending))
		for path := range pending {
			batch = append(batch, path)
		}
		pending = make(map[string]struct{})
		pendingMu.Unlock()

		select {
		case w.changes <- batch:
		case <-ctx.Done():
		default:
			w.logger.Warn("change channel full, dropping batch", "paths", len(batch))
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			if w.ignored(event.Name) {
				continue
			}
			// New directories join the watch set.
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
				}
			}

			pendingMu.Lock()
			pending[event.Name] = struct{}{}
			pendingMu.Unlock()

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.cfg.Debounce, flush)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}
