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

// Package gauger is the sensor board. It shares one serial line between
// many callers using acknowledged command IDs and streams telemetry lines
// in between the acknowledgements.
package gauger

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/device/dispatch"
	"github.com/moonunit/gateway/pkg/device/lifecycle"
	"github.com/moonunit/gateway/pkg/device/transport"
	"github.com/moonunit/gateway/pkg/gpio"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/moonunit/gateway/pkg/peripherals"
	"github.com/rs/zerolog/log"
)

const (
	Name = "gauger"

	// DefaultStreamCommand switches the board into streaming mode.
	DefaultStreamCommand = ":20 1;"

	// Sentinel is what the board reports for a reading it does not have.
	Sentinel = 1000
)

// Telemetry tags.
const (
	TagGPS = "GPS"
	TagMAG = "MAG"
	TagORI = "ORI"
)

// Tags lists the telemetry modules the gauger streams.
var Tags = []string{TagGPS, TagMAG, TagORI}

// Telemetry maps a module tag to its latest readings. Unknown readings are
// nil.
type Telemetry map[string][]*float64

// Reading is one demultiplexed telemetry line.
type Reading struct {
	Tag    string     `json:"tag"`
	Values []*float64 `json:"values"`
}

type Config struct {
	Dispatch  dispatch.Config
	Lifecycle lifecycle.Config
	// StreamCommand is sent once the board is ready. Empty disables it.
	StreamCommand string
}

type Option func(*settings)

type settings struct {
	clock     clockwork.Clock
	onReading func(Reading)
	listeners []lifecycle.StateListener
}

func WithClock(c clockwork.Clock) Option {
	return func(s *settings) {
		s.clock = c
	}
}

// WithReadingListener is called for every telemetry line that was stored.
func WithReadingListener(fn func(Reading)) Option {
	return func(s *settings) {
		s.onReading = fn
	}
}

func WithStateListener(fn lifecycle.StateListener) Option {
	return func(s *settings) {
		s.listeners = append(s.listeners, fn)
	}
}

// Gauger is the gauger device and its telemetry store.
type Gauger struct {
	*lifecycle.Device
	onReading func(Reading)
	telemetry Telemetry
	stream    string
	mu        syncutil.RWMutex
}

// New builds a Closed gauger. When pins is enabled Reset pulses the gauger
// reset line.
func New(cfg Config, opener transport.Opener, pins *gpio.Helper, opts ...Option) *Gauger {
	s := settings{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&s)
	}

	g := &Gauger{
		onReading: s.onReading,
		telemetry: make(Telemetry),
		stream:    strings.TrimSpace(cfg.StreamCommand),
	}

	disp := dispatch.NewCorrelated(cfg.Dispatch,
		dispatch.WithClock(s.clock),
		dispatch.WithUnsolicited(g.HandleLine),
	)

	lcOpts := []lifecycle.Option{
		lifecycle.WithClock(s.clock),
		lifecycle.WithStateListener(g.stateChanged),
	}
	for _, fn := range s.listeners {
		lcOpts = append(lcOpts, lifecycle.WithStateListener(fn))
	}
	if g.stream != "" {
		lcOpts = append(lcOpts, lifecycle.WithOnReady(g.activateStream))
	}
	if pins != nil && pins.Enabled() {
		lcOpts = append(lcOpts, lifecycle.WithReset(pins.ResetGauger))
	}
	g.Device = lifecycle.New(cfg.Lifecycle, opener, disp, lcOpts...)
	return g
}

// ParseLine splits a telemetry line such as "GPS:52.1|4.3" into its tag
// and readings, with sentinel readings cleared.
func ParseLine(line string) (Reading, bool) {
	tag, payload, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok || tag == "" {
		return Reading{}, false
	}
	vals := peripherals.DropSentinel(peripherals.ParseFloats(payload), Sentinel)
	return Reading{Tag: tag, Values: vals}, true
}

// HandleLine stores a telemetry line. Lines with an unknown tag are
// dropped.
func (g *Gauger) HandleLine(line string) {
	r, ok := ParseLine(line)
	if !ok || !slices.Contains(Tags, r.Tag) {
		log.Debug().Str("line", line).Msg("ignoring unknown gauger line")
		return
	}

	g.mu.Lock()
	g.telemetry[r.Tag] = r.Values
	g.mu.Unlock()

	if g.onReading != nil {
		g.onReading(r)
	}
}

// Telemetry returns a copy of the latest readings per tag.
func (g *Gauger) Telemetry() Telemetry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(Telemetry, len(g.telemetry))
	for tag, vals := range g.telemetry {
		out[tag] = slices.Clone(vals)
	}
	return out
}

func (g *Gauger) activateStream(ctx context.Context, d *lifecycle.Device) error {
	frame, err := d.Send(ctx, g.stream)
	if err != nil {
		return fmt.Errorf("failed to activate streaming: %w", err)
	}
	if !frame.OK() {
		return fmt.Errorf("streaming activation rejected: %d %s", frame.Status, frame.Message)
	}
	log.Info().Msg("gauger streaming activated")
	return nil
}

func (g *Gauger) stateChanged(_ string, s lifecycle.State) {
	if s != lifecycle.Closed {
		return
	}
	g.mu.Lock()
	clear(g.telemetry)
	g.mu.Unlock()
}
