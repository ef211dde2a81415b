// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package configwatch turns filesystem writes to the config file into the
// same SIGHUP the supervisor already treats as a reload request, so editing
// the YAML on disk reloads it without an explicit kill -HUP.
package configwatch

import (
	"log/slog"
	"os"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// Watcher debounces fsnotify write/create events on one file into a
// self-delivered SIGHUP.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// New starts watching path. Callers should defer Close.
func New(path string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{fsw: fsw, logger: logger.With("component", "configwatch")}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Info("config file changed on disk, triggering reload", "event", ev.Op.String())
			if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
				w.logger.Warn("self-signal for config reload failed", "error", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
