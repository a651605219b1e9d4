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

package dispatch

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/device/jobs"
	"github.com/moonunit/gateway/pkg/device/transport"
	"github.com/moonunit/gateway/pkg/device/wire"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type slotState int

const (
	slotWaiting slotState = iota
	slotTimedOut
)

// slot is the one armed response listener. gen ties timer callbacks to the
// command that started them, so a stale timer cannot touch a newer slot.
type slot struct {
	job   *jobs.Job
	timer clockwork.Timer
	gen   uint64
	state slotState
}

// SingleFlight sends one command at a time and resolves it with the next
// response line.
type SingleFlight struct {
	clock    clockwork.Clock
	conn     transport.Conn
	ready    ReadyFunc
	system   SystemJobFunc
	queue    *jobs.Queue
	armed    *slot
	cfg      Config
	gen      uint64
	mu       syncutil.Mutex
	inFlight bool
}

var _ Dispatcher = (*SingleFlight)(nil)

// NewSingleFlight creates an idle dispatcher. It sends nothing until Run.
func NewSingleFlight(cfg Config, opts ...Option) *SingleFlight {
	o := buildOptions(opts)
	return &SingleFlight{
		cfg:    cfg,
		clock:  o.clock,
		ready:  o.ready,
		system: o.system,
		queue:  jobs.NewQueue(cfg.Order),
	}
}

func (d *SingleFlight) Enqueue(body string, opts ...jobs.Option) *jobs.Future {
	j := jobs.New(body, opts...)
	// a fresh job cannot already be queued
	_ = d.queue.Push(j)
	return j.Future()
}

func (d *SingleFlight) Run(ctx context.Context, conn transport.Conn) error {
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	defer d.detach(conn)

	log.Debug().Str("device", d.cfg.Name).Msg("single-flight worker started")
	err := runLoop(ctx, d.clock, d.cfg.WorkerDelay, conn.Lines(), d.Tick, d.handleLine)
	log.Debug().Str("device", d.cfg.Name).Err(err).Msg("single-flight worker stopped")
	return err
}

// Tick sends the next job if nothing is in flight and the device is ready.
func (d *SingleFlight) Tick(ctx context.Context) {
	d.mu.Lock()
	if d.inFlight || d.conn == nil {
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	conn := d.conn
	d.mu.Unlock()

	if d.ready != nil && !d.ready(ctx) {
		d.clearInFlight()
		return
	}

	job, ok := d.queue.Pop()
	if !ok && d.system != nil {
		job = d.system()
		ok = job != nil
	}
	if !ok {
		d.clearInFlight()
		return
	}

	if err := conn.Flush(); err != nil {
		log.Error().Err(err).Str("device", d.cfg.Name).Msg("failed to flush before write")
		d.clearInFlight()
		job.Resolve(wire.FlushErrorFrame(err))
		return
	}

	d.mu.Lock()
	if d.conn != conn {
		// stopped while flushing
		d.inFlight = false
		d.mu.Unlock()
		job.Resolve(wire.ClosedFrame())
		return
	}
	d.gen++
	s := &slot{job: job, gen: d.gen}
	if d.cfg.CommandTimeout > 0 {
		gen := s.gen
		s.timer = d.clock.AfterFunc(d.cfg.CommandTimeout, func() { d.expire(gen) })
	}
	d.armed = s
	d.mu.Unlock()

	logJob(job, d.cfg.Name).Str("command", job.Body).Msg("sending command")

	if err := conn.Write(wire.Encode(job.Body, d.cfg.Mock)); err != nil {
		if d.disarm(s.gen) {
			job.Fail(fmt.Errorf("%s: %w", d.cfg.Name, err))
		}
	}
}

// handleLine resolves the armed job with a response line.
func (d *SingleFlight) handleLine(line string) {
	d.mu.Lock()
	s := d.armed
	if s == nil {
		d.mu.Unlock()
		log.Debug().Str("device", d.cfg.Name).Str("line", line).Msg("discarding unsolicited line")
		return
	}
	d.armed = nil
	d.inFlight = false
	if s.timer != nil {
		s.timer.Stop()
	}
	state := s.state
	d.mu.Unlock()

	if state == slotTimedOut {
		log.Warn().Str("device", d.cfg.Name).Str("line", line).Msg("discarding late response")
		return
	}

	frame := wire.Decode(line)
	logJob(s.job, d.cfg.Name).Int("status", frame.Status).Str("raw", frame.Raw).Msg("received response")
	s.job.Resolve(frame)
}

func (d *SingleFlight) expire(gen uint64) {
	d.mu.Lock()
	s := d.armed
	if s == nil || s.gen != gen || s.state != slotWaiting {
		d.mu.Unlock()
		return
	}
	s.state = slotTimedOut
	if d.cfg.TimeoutGrace > 0 {
		s.timer = d.clock.AfterFunc(d.cfg.TimeoutGrace, func() { d.release(gen) })
	} else {
		d.armed = nil
		d.inFlight = false
	}
	d.mu.Unlock()

	log.Warn().
		Str("device", d.cfg.Name).
		Str("command", s.job.Body).
		Dur("timeout", d.cfg.CommandTimeout).
		Msg("command timed out")
	s.job.Resolve(wire.TimeoutFrame())
}

// release frees a timed out slot once its grace period passes.
func (d *SingleFlight) release(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed != nil && d.armed.gen == gen && d.armed.state == slotTimedOut {
		d.armed = nil
		d.inFlight = false
	}
}

// disarm clears the slot for gen and reports whether it was still armed.
func (d *SingleFlight) disarm(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.armed
	if s == nil || s.gen != gen {
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	d.armed = nil
	d.inFlight = false
	return s.state == slotWaiting
}

func (d *SingleFlight) clearInFlight() {
	d.mu.Lock()
	d.inFlight = false
	d.mu.Unlock()
}

// detach runs when the worker stops. The armed job cannot be answered any
// more, so it resolves as closed.
func (d *SingleFlight) detach(conn transport.Conn) {
	d.mu.Lock()
	if d.conn != conn {
		d.mu.Unlock()
		return
	}
	s := d.armed
	d.armed = nil
	d.inFlight = false
	d.conn = nil
	waiting := s != nil && s.state == slotWaiting
	if s != nil && s.timer != nil {
		s.timer.Stop()
	}
	d.mu.Unlock()

	if waiting {
		s.job.Resolve(wire.ClosedFrame())
	}
}

func (d *SingleFlight) Drain() int {
	drained := d.queue.Drain()
	for _, j := range drained {
		j.Resolve(wire.ClosedFrame())
	}
	if len(drained) > 0 {
		log.Info().Str("device", d.cfg.Name).Int("jobs", len(drained)).Msg("drained queue")
	}
	return len(drained)
}

func (d *SingleFlight) Pending() int {
	n := d.queue.Len()
	d.mu.Lock()
	if d.armed != nil && d.armed.state == slotWaiting {
		n++
	}
	d.mu.Unlock()
	return n
}

func (d *SingleFlight) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// logJob logs system jobs at trace so position polls stay out of info.
func logJob(j *jobs.Job, device string) *zerolog.Event {
	if j.IsSystem {
		return log.Trace().Str("device", device)
	}
	return log.Info().Str("device", device).Uint64("job", j.ID)
}
