// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
)

// DefaultDebounce is how long Watch waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// ReloadHandler is called after each reload attempt with its result.
type ReloadHandler func(c *Catalog, err error)

// Watch reloads the catalog whenever its file changes, until ctx is done.
//
// # Description
//
// Watches the file's directory rather than the file itself, so editors
// that save by rename are still seen. Bursts of events are debounced into
// a single reload. A failed reload keeps the previous contents.
//
// # Inputs
//
//   - ctx: Stops the watcher when cancelled.
//   - debounce: Quiet period before reloading. Zero means DefaultDebounce.
//   - onReload: Optional; called after every reload attempt.
//   - logger: Receives reload and watcher errors.
//
// # Outputs
//
//   - error: Non-nil if the watcher could not start. Returns nil once ctx
//     is cancelled.
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration, onReload ReloadHandler, logger *logging.Logger) error {
	if c.path == "" {
		return errors.New("catalog has no backing file")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer func() {
		if cerr := watcher.Close(); cerr != nil {
			logger.Warn("close catalog watcher", "error", cerr)
		}
	}()

	abs, err := filepath.Abs(c.path)
	if err != nil {
		return fmt.Errorf("resolve catalog path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching catalog", "path", abs)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			err := c.Reload()
			if err != nil {
				logger.Warn("catalog reload failed, keeping previous contents", "path", abs, "error", err)
			} else {
				logger.Info("catalog reloaded", "path", abs, "books", c.Len())
			}
			if onReload != nil {
				onReload(c, err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", "error", err)
		}
	}
}
