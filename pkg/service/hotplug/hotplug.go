// MoonUnit Gateway
// Copyright (c) 2026 The MoonUnit Gateway Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of MoonUnit Gateway.
//
// MoonUnit Gateway is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// MoonUnit Gateway is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with MoonUnit Gateway.  If not, see <http://www.gnu.org/licenses/>.

// Package hotplug reconnects devices when their serial port node comes
// back, for boards that are unplugged or power cycled on the bench.
package hotplug

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/device/lifecycle"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// DefaultSettle is how long a new port node is left alone before opening
// it. udev is still applying permissions right after the node appears.
const DefaultSettle = time.Second

// Device is what the watcher reconnects.
type Device interface {
	Name() string
	State() lifecycle.State
	Connect(ctx context.Context) error
}

type Option func(*Watcher)

func WithClock(c clockwork.Clock) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		w.settle = d
	}
}

// Watcher watches the directories holding the configured port paths.
type Watcher struct {
	clock   clockwork.Clock
	targets map[string]Device
	pending map[string]bool
	settle  time.Duration
	wg      sync.WaitGroup
	mu      syncutil.Mutex
}

func New(opts ...Option) *Watcher {
	w := &Watcher{
		clock:   clockwork.NewRealClock(),
		targets: make(map[string]Device),
		pending: make(map[string]bool),
		settle:  DefaultSettle,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Add registers a device for its port path. Call before Run.
func (w *Watcher) Add(path string, d Device) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.targets[filepath.Clean(path)] = d
}

// Len is the number of watched ports.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.targets)
}

// Run watches until ctx is done. Directories that cannot be watched are
// logged and skipped; it is an error only when none can be.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create port watcher: %w", err)
	}
	defer func() {
		if err := fw.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing port watcher")
		}
	}()

	w.mu.Lock()
	dirs := make(map[string]struct{})
	for path := range w.targets {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	w.mu.Unlock()

	watched := 0
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("cannot watch port directory")
			continue
		}
		watched++
	}
	if watched == 0 {
		return errors.New("no port directories could be watched")
	}
	log.Info().Int("ports", w.Len()).Msg("watching serial ports for hotplug")

	defer w.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("port watcher error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	w.mu.Lock()
	d, ok := w.targets[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	switch {
	case ev.Has(fsnotify.Remove):
		w.mu.Unlock()
		log.Info().Str("device", d.Name()).Str("port", path).Msg("serial port removed")
		return
	case !ev.Has(fsnotify.Create):
		w.mu.Unlock()
		return
	case w.pending[path]:
		w.mu.Unlock()
		return
	}
	w.pending[path] = true
	w.mu.Unlock()

	log.Info().Str("device", d.Name()).Str("port", path).Msg("serial port appeared")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}()

		select {
		case <-w.clock.After(w.settle):
		case <-ctx.Done():
			return
		}

		if s := d.State(); s != lifecycle.Closed {
			log.Debug().Str("device", d.Name()).Stringer("state", s).Msg("device not closed, skipping reconnect")
			return
		}
		if err := d.Connect(ctx); err != nil {
			log.Error().Err(err).Str("device", d.Name()).Msg("hotplug reconnect failed")
			return
		}
		log.Info().Str("device", d.Name()).Msg("device reconnected after hotplug")
	}()
}
