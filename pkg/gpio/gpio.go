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

// Package gpio drives the reset, stop and ready lines wired between the
// gateway host and its peripherals.
package gpio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

const (
	DefaultChip           = "gpiochip0"
	DefaultResetPulse     = 100 * time.Millisecond
	DefaultStopHold       = time.Second
	DefaultOpenRetries    = 10
	DefaultOpenRetryDelay = 3 * time.Second

	// BCM line offsets of the reference wiring.
	DefaultControllerReset = 26
	DefaultControllerStop  = 19
	DefaultControllerReady = 20
	DefaultGaugerReset     = 16
)

const (
	StateReady = "ready"
	StateBusy  = "busy"
)

// ErrDisabled is returned by line operations when GPIO is turned off.
var ErrDisabled = errors.New("gpio not enabled")

// Line is one requested GPIO line.
type Line interface {
	Value() (int, error)
	SetValue(value int) error
	Close() error
}

// Chip hands out lines by offset.
type Chip interface {
	RequestOutput(offset, initial int) (Line, error)
	RequestInput(offset int) (Line, error)
	Close() error
}

// ChipOpener opens a chip by name.
type ChipOpener func(name string) (Chip, error)

type Config struct {
	Chip            string
	ControllerReset int
	ControllerStop  int
	ControllerReady int
	GaugerReset     int
	ResetPulse      time.Duration
	StopHold        time.Duration
	OpenRetries     int
	OpenRetryDelay  time.Duration
	Enabled         bool
}

func DefaultConfig() Config {
	return Config{
		Chip:            DefaultChip,
		ControllerReset: DefaultControllerReset,
		ControllerStop:  DefaultControllerStop,
		ControllerReady: DefaultControllerReady,
		GaugerReset:     DefaultGaugerReset,
		ResetPulse:      DefaultResetPulse,
		StopHold:        DefaultStopHold,
		OpenRetries:     DefaultOpenRetries,
		OpenRetryDelay:  DefaultOpenRetryDelay,
	}
}

type Option func(*Helper)

func WithClock(c clockwork.Clock) Option {
	return func(h *Helper) {
		h.clock = c
	}
}

// WithChipOpener replaces the character device backend, mostly for tests.
func WithChipOpener(fn ChipOpener) Option {
	return func(h *Helper) {
		h.opener = fn
	}
}

// WithPulseListener is called with the line name after every completed
// pulse.
func WithPulseListener(fn func(line string)) Option {
	return func(h *Helper) {
		h.onPulse = fn
	}
}

// Line names reported to pulse listeners.
const (
	LineControllerReset = "controller.reset"
	LineControllerStop  = "controller.stop"
	LineGaugerReset     = "gauger.reset"
)

type lines struct {
	controllerReset Line
	controllerStop  Line
	controllerReady Line
	gaugerReset     Line
}

func (l lines) all() []Line {
	return []Line{l.controllerReset, l.controllerStop, l.controllerReady, l.gaugerReset}
}

// Helper owns the chip and the four lines. When disabled every read reports
// ready and every write returns ErrDisabled.
type Helper struct {
	clock   clockwork.Clock
	opener  ChipOpener
	onPulse func(line string)
	chip    Chip
	lines   lines
	cfg     Config
	mu      syncutil.Mutex
}

func NewHelper(cfg Config, opts ...Option) *Helper {
	h := &Helper{
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		opener: OpenCdevChip,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Helper) Enabled() bool {
	return h.cfg.Enabled
}

// Open requests all lines. Permission errors are retried because udev
// rules may not have been applied yet when the service starts at boot.
func (h *Helper) Open(ctx context.Context) error {
	if !h.cfg.Enabled {
		log.Info().Msg("gpio is disabled")
		return nil
	}

	retries := max(h.cfg.OpenRetries, 1)
	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		err = h.open()
		if err == nil {
			log.Info().Str("chip", h.cfg.Chip).Msg("gpio opened")
			return nil
		}
		if !errors.Is(err, fs.ErrPermission) || attempt == retries {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("failed to open gpio, retrying")
		select {
		case <-h.clock.After(h.cfg.OpenRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("failed to open gpio: %w", err)
}

func (h *Helper) open() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.chip != nil {
		return nil
	}

	chip, err := h.opener(h.cfg.Chip)
	if err != nil {
		return fmt.Errorf("open chip %s: %w", h.cfg.Chip, err)
	}

	var ls lines
	var reqErr error
	request := func(dst *Line, offset int, output bool, initial int) {
		if reqErr != nil {
			return
		}
		var l Line
		if output {
			l, reqErr = chip.RequestOutput(offset, initial)
		} else {
			l, reqErr = chip.RequestInput(offset)
		}
		if reqErr != nil {
			reqErr = fmt.Errorf("request line %d: %w", offset, reqErr)
			return
		}
		*dst = l
	}
	request(&ls.controllerReset, h.cfg.ControllerReset, true, 1)
	request(&ls.controllerStop, h.cfg.ControllerStop, true, 0)
	request(&ls.controllerReady, h.cfg.ControllerReady, false, 0)
	request(&ls.gaugerReset, h.cfg.GaugerReset, true, 1)

	if reqErr != nil {
		closeLines(ls)
		_ = chip.Close()
		return reqErr
	}

	h.chip = chip
	h.lines = ls
	return nil
}

func closeLines(ls lines) []error {
	var errs []error
	for _, l := range ls.all() {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Close releases every line and the chip. Safe to call when never opened.
func (h *Helper) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.chip == nil {
		return nil
	}
	errs := closeLines(h.lines)
	if err := h.chip.Close(); err != nil {
		errs = append(errs, err)
	}
	h.chip = nil
	h.lines = lines{}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing gpio: %w", errors.Join(errs...))
	}
	return nil
}

func (h *Helper) line(pick func(lines) Line) (Line, error) {
	if !h.cfg.Enabled {
		return nil, ErrDisabled
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.chip == nil {
		return nil, errors.New("gpio not open")
	}
	return pick(h.lines), nil
}

// IsControllerReady reads the controller ready line. The controller holds
// it high while idle. Always true when GPIO is disabled.
func (h *Helper) IsControllerReady(_ context.Context) (bool, error) {
	if !h.cfg.Enabled {
		return true, nil
	}
	l, err := h.line(func(ls lines) Line { return ls.controllerReady })
	if err != nil {
		return false, err
	}
	v, err := l.Value()
	if err != nil {
		return false, fmt.Errorf("read ready line: %w", err)
	}
	return v == 1, nil
}

// ControllerState is "ready" or "busy".
func (h *Helper) ControllerState(ctx context.Context) (string, error) {
	ready, err := h.IsControllerReady(ctx)
	if err != nil {
		return "", err
	}
	if ready {
		return StateReady, nil
	}
	return StateBusy, nil
}

// StopController raises the stop line for StopHold.
func (h *Helper) StopController(ctx context.Context) error {
	l, err := h.line(func(ls lines) Line { return ls.controllerStop })
	if err != nil {
		return err
	}
	log.Info().Msg("sending controller stop")
	return h.pulse(ctx, LineControllerStop, l, 1, h.cfg.StopHold)
}

// ResetController pulls the controller reset line low for ResetPulse.
func (h *Helper) ResetController(ctx context.Context) error {
	l, err := h.line(func(ls lines) Line { return ls.controllerReset })
	if err != nil {
		return err
	}
	log.Info().Msg("sending controller reset")
	return h.pulse(ctx, LineControllerReset, l, 0, h.cfg.ResetPulse)
}

// ResetGauger pulls the gauger reset line low for ResetPulse.
func (h *Helper) ResetGauger(ctx context.Context) error {
	l, err := h.line(func(ls lines) Line { return ls.gaugerReset })
	if err != nil {
		return err
	}
	log.Info().Msg("sending gauger reset")
	return h.pulse(ctx, LineGaugerReset, l, 0, h.cfg.ResetPulse)
}

// pulse drives l to active for d and then back. The line is restored even
// when ctx ends early.
func (h *Helper) pulse(ctx context.Context, name string, l Line, active int, d time.Duration) error {
	if err := l.SetValue(active); err != nil {
		return fmt.Errorf("set line: %w", err)
	}

	var waitErr error
	select {
	case <-h.clock.After(d):
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if err := l.SetValue(1 - active); err != nil {
		return fmt.Errorf("restore line: %w", err)
	}
	if waitErr == nil && h.onPulse != nil {
		h.onPulse(name)
	}
	return waitErr
}
