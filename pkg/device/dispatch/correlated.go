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
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/device/jobs"
	"github.com/moonunit/gateway/pkg/device/transport"
	"github.com/moonunit/gateway/pkg/device/wire"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

type entry struct {
	job    *jobs.Job
	sentAt time.Time
	sent   bool
}

// Correlated tags each command with an ID and resolves jobs from
// acknowledgement envelopes in whatever order the device sends them.
type Correlated struct {
	clock       clockwork.Clock
	conn        transport.Conn
	unsolicited LineHandler
	queue       *jobs.Queue
	table       map[uint64]*entry
	cfg         Config
	nextID      uint64
	mu          syncutil.Mutex
	writing     bool
}

var _ Dispatcher = (*Correlated)(nil)

// NewCorrelated creates an idle dispatcher. It sends nothing until Run.
func NewCorrelated(cfg Config, opts ...Option) *Correlated {
	o := buildOptions(opts)
	return &Correlated{
		cfg:         cfg,
		clock:       o.clock,
		unsolicited: o.unsolicited,
		queue:       jobs.NewQueue(cfg.Order),
		table:       make(map[uint64]*entry),
	}
}

func (d *Correlated) Enqueue(body string, opts ...jobs.Option) *jobs.Future {
	j := jobs.New(body, opts...)

	d.mu.Lock()
	j.ID = d.allocID()
	d.table[j.ID] = &entry{job: j}
	d.mu.Unlock()

	_ = d.queue.Push(j)
	return j.Future()
}

// allocID returns the next ID not held by an outstanding job. IDs run from
// 0 to wire.MaxJobID-1 and then wrap. The caller must hold d.mu.
func (d *Correlated) allocID() uint64 {
	for {
		id := d.nextID
		d.nextID++
		if d.nextID >= wire.MaxJobID {
			d.nextID = 0
		}
		if _, busy := d.table[id]; !busy {
			return id
		}
	}
}

func (d *Correlated) Run(ctx context.Context, conn transport.Conn) error {
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		if d.conn == conn {
			d.conn = nil
		}
		d.mu.Unlock()
	}()

	log.Debug().Str("device", d.cfg.Name).Msg("correlated worker started")
	err := runLoop(ctx, d.clock, d.cfg.WorkerDelay, conn.Lines(), d.Tick, d.handleLine)
	log.Debug().Str("device", d.cfg.Name).Err(err).Msg("correlated worker stopped")
	return err
}

// Tick evicts expired jobs and writes the next queued one. Input is not
// flushed first since other jobs' acknowledgements may be pending.
func (d *Correlated) Tick(_ context.Context) {
	d.evict()

	d.mu.Lock()
	if d.conn == nil || d.writing {
		d.mu.Unlock()
		return
	}
	job, ok := d.queue.Pop()
	if !ok {
		d.mu.Unlock()
		return
	}
	e, tracked := d.table[job.ID]
	if !tracked {
		// drained between enqueue and pop
		d.mu.Unlock()
		return
	}
	e.sent = true
	e.sentAt = d.clock.Now()
	d.writing = true
	conn := d.conn
	d.mu.Unlock()

	logJob(job, d.cfg.Name).Str("command", job.Body).Msg("sending command")
	err := conn.Write(wire.EncodeTagged(job.ID, job.Body, d.cfg.Mock))

	d.mu.Lock()
	d.writing = false
	if err != nil && d.table[job.ID] == e {
		delete(d.table, job.ID)
	}
	d.mu.Unlock()

	if err != nil {
		job.Fail(fmt.Errorf("%s: %w", d.cfg.Name, err))
	}
}

// evict times out jobs that were sent more than JobTTL ago.
func (d *Correlated) evict() {
	if d.cfg.JobTTL <= 0 {
		return
	}

	now := d.clock.Now()
	var expired []*jobs.Job

	d.mu.Lock()
	for id, e := range d.table {
		if e.sent && now.Sub(e.sentAt) > d.cfg.JobTTL {
			delete(d.table, id)
			expired = append(expired, e.job)
		}
	}
	d.mu.Unlock()

	for _, j := range expired {
		log.Warn().Str("device", d.cfg.Name).Uint64("job", j.ID).Msg("evicting unacknowledged job")
		j.Resolve(wire.TimeoutFrame())
	}
}

func (d *Correlated) handleLine(line string) {
	if !wire.IsAck(line) {
		if d.unsolicited != nil {
			d.unsolicited(line)
		}
		return
	}

	id, frame, err := wire.DecodeAck(line)
	if err != nil {
		log.Warn().Err(err).Str("device", d.cfg.Name).Str("line", line).Msg("discarding bad ack")
		return
	}

	d.mu.Lock()
	e, ok := d.table[id]
	if ok {
		delete(d.table, id)
	}
	d.mu.Unlock()

	if !ok {
		log.Warn().Str("device", d.cfg.Name).Uint64("job", id).Msg("ack for unknown job")
		return
	}

	logJob(e.job, d.cfg.Name).Int("status", frame.Status).Str("raw", frame.Raw).Msg("received ack")
	e.job.Resolve(frame)
}

func (d *Correlated) Drain() int {
	d.queue.Drain()

	d.mu.Lock()
	table := d.table
	d.table = make(map[uint64]*entry)
	d.mu.Unlock()

	for _, e := range table {
		e.job.Resolve(wire.ClosedFrame())
	}
	if len(table) > 0 {
		log.Info().Str("device", d.cfg.Name).Int("jobs", len(table)).Msg("drained outstanding jobs")
	}
	return len(table)
}

func (d *Correlated) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.table)
}

func (d *Correlated) Busy() bool {
	return d.Pending() > 0
}
