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

// Package controller is the motion controller board: a single-flight serial
// device that is polled for its position whenever nothing else is queued.
package controller

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/device/dispatch"
	"github.com/moonunit/gateway/pkg/device/jobs"
	"github.com/moonunit/gateway/pkg/device/lifecycle"
	"github.com/moonunit/gateway/pkg/device/transport"
	"github.com/moonunit/gateway/pkg/device/wire"
	"github.com/moonunit/gateway/pkg/gpio"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/moonunit/gateway/pkg/peripherals"
	"github.com/rs/zerolog/log"
)

const (
	Name = "controller"

	// PositionCommand asks for "p1|p2|o1|o2|o3".
	PositionCommand = ":15 ;\n"
)

// Status is the last position and orientation the controller reported.
// Unknown values are nil.
type Status struct {
	Position    []*float64 `json:"position"`
	Orientation []*float64 `json:"orientation"`
}

func emptyStatus() Status {
	return Status{
		Position:    make([]*float64, 2),
		Orientation: make([]*float64, 3),
	}
}

type Config struct {
	Dispatch  dispatch.Config
	Lifecycle lifecycle.Config
	// PollPosition enables the position system job.
	PollPosition bool
}

type Option func(*settings)

type settings struct {
	clock     clockwork.Clock
	onStatus  func(Status)
	listeners []lifecycle.StateListener
}

func WithClock(c clockwork.Clock) Option {
	return func(s *settings) {
		s.clock = c
	}
}

// WithStatusListener is called after every position update and when the
// status is cleared.
func WithStatusListener(fn func(Status)) Option {
	return func(s *settings) {
		s.onStatus = fn
	}
}

func WithStateListener(fn lifecycle.StateListener) Option {
	return func(s *settings) {
		s.listeners = append(s.listeners, fn)
	}
}

// Controller is the controller device plus the status it reports.
type Controller struct {
	*lifecycle.Device
	pins     *gpio.Helper
	onStatus func(Status)
	status   Status
	mock     bool
	mu       syncutil.RWMutex
}

// New builds a Closed controller. When pins is enabled the ready line gates
// dispatch and Reset pulses the controller reset line.
func New(cfg Config, opener transport.Opener, pins *gpio.Helper, opts ...Option) *Controller {
	s := settings{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&s)
	}

	c := &Controller{
		pins:     pins,
		onStatus: s.onStatus,
		status:   emptyStatus(),
		mock:     cfg.Dispatch.Mock,
	}

	dispOpts := []dispatch.Option{
		dispatch.WithClock(s.clock),
		dispatch.WithReadyGate(c.ready),
	}
	if cfg.PollPosition {
		dispOpts = append(dispOpts, dispatch.WithSystemJob(c.positionJob))
	}
	disp := dispatch.NewSingleFlight(cfg.Dispatch, dispOpts...)

	lcOpts := []lifecycle.Option{
		lifecycle.WithClock(s.clock),
		lifecycle.WithStateListener(c.stateChanged),
	}
	for _, fn := range s.listeners {
		lcOpts = append(lcOpts, lifecycle.WithStateListener(fn))
	}
	if pins != nil && pins.Enabled() {
		lcOpts = append(lcOpts, lifecycle.WithReset(pins.ResetController))
	}
	c.Device = lifecycle.New(cfg.Lifecycle, opener, disp, lcOpts...)
	return c
}

// Status returns a copy of the last reported status.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Position:    append([]*float64(nil), c.status.Position...),
		Orientation: append([]*float64(nil), c.status.Orientation...),
	}
}

// ReadyState is the ready line state, "ready" or "busy".
func (c *Controller) ReadyState(ctx context.Context) (string, error) {
	if c.pins == nil {
		return gpio.StateReady, nil
	}
	return c.pins.ControllerState(ctx)
}

func (c *Controller) ready(ctx context.Context) bool {
	if c.pins == nil {
		return true
	}
	ok, err := c.pins.IsControllerReady(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read controller ready line")
		return false
	}
	return ok
}

func (c *Controller) positionJob() *jobs.Job {
	return jobs.New(PositionCommand, jobs.AsSystem(), jobs.WithHandler(c.handlePosition))
}

func (c *Controller) handlePosition(frame wire.Frame, err error) {
	if err != nil {
		log.Debug().Err(err).Msg("position poll failed")
		return
	}
	if !frame.OK() {
		// the echoing mock device never answers with a position
		if !c.mock && frame.Status != wire.StatusDeviceClosed {
			log.Error().Int("status", frame.Status).Str("raw", frame.Raw).Msg("failed to get positions")
		}
		return
	}

	vals := peripherals.ParseFloats(frame.Body)
	var orientation []*float64
	if len(vals) > 2 {
		orientation = vals[2:]
	}
	c.setStatus(Status{
		Position:    peripherals.Pick(vals, 2),
		Orientation: peripherals.Pick(orientation, 3),
	})
}

func (c *Controller) setStatus(st Status) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
	if c.onStatus != nil {
		c.onStatus(st)
	}
}

func (c *Controller) stateChanged(_ string, s lifecycle.State) {
	if s == lifecycle.Closed {
		c.setStatus(emptyStatus())
	}
}
