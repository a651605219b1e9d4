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

// Package dispatch moves queued jobs onto a device connection and matches
// response lines back to the jobs that caused them.
//
// Two strategies are provided. SingleFlight keeps exactly one command on the
// wire and treats the next response line as its answer; it is used for the
// controller, which answers in order and has no correlation IDs.
// Correlated allows any number of outstanding commands, each tagged with an
// ID the device echoes back in an acknowledgement envelope; it is used for
// the gauger, which interleaves acknowledgements with telemetry.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/device/jobs"
	"github.com/moonunit/gateway/pkg/device/transport"
)

const (
	DefaultWorkerDelay    = 100 * time.Millisecond
	DefaultCommandTimeout = 5 * time.Second
	DefaultTimeoutGrace   = 500 * time.Millisecond
	DefaultJobTTL         = 30 * time.Second
)

// ErrConnectionLost is returned by Run when the device stream ended without
// the context being cancelled.
var ErrConnectionLost = errors.New("device connection lost")

// Dispatcher is what the device lifecycle drives.
type Dispatcher interface {
	// Enqueue submits a command body and never blocks.
	Enqueue(body string, opts ...jobs.Option) *jobs.Future
	// Run writes jobs to conn and consumes its lines until ctx is cancelled
	// or the line stream ends.
	Run(ctx context.Context, conn transport.Conn) error
	// Drain resolves every pending job as closed and returns how many there
	// were.
	Drain() int
	// Pending returns the number of jobs not yet resolved.
	Pending() int
	// Busy reports whether a command is awaiting its response.
	Busy() bool
}

// Config holds the timing and encoding settings shared by both dispatchers.
type Config struct {
	Name string
	// WorkerDelay is the interval between ticks.
	WorkerDelay time.Duration
	// CommandTimeout bounds the wait for a single-flight response. Zero
	// waits forever.
	CommandTimeout time.Duration
	// TimeoutGrace keeps a timed out slot busy so a late response is not
	// taken as the answer to the next command.
	TimeoutGrace time.Duration
	// JobTTL evicts correlated jobs that were sent and never acknowledged.
	JobTTL time.Duration
	Order  jobs.Order
	// Mock sends command bodies untrimmed.
	Mock bool
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		WorkerDelay:    DefaultWorkerDelay,
		CommandTimeout: DefaultCommandTimeout,
		TimeoutGrace:   DefaultTimeoutGrace,
		JobTTL:         DefaultJobTTL,
		Order:          jobs.LIFO,
	}
}

// Option configures a dispatcher.
type Option func(*options)

type options struct {
	clock       clockwork.Clock
	ready       ReadyFunc
	system      SystemJobFunc
	unsolicited LineHandler
}

// ReadyFunc gates dispatch on external readiness, such as the controller's
// ready GPIO line.
type ReadyFunc func(ctx context.Context) bool

// SystemJobFunc builds a job to send when the queue is empty. Returning nil
// sends nothing.
type SystemJobFunc func() *jobs.Job

// LineHandler receives lines that are not responses to a job.
type LineHandler func(line string)

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithReadyGate makes each tick check ready before sending.
func WithReadyGate(ready ReadyFunc) Option {
	return func(o *options) {
		o.ready = ready
	}
}

// WithSystemJob sets the job sent when there is nothing else to do.
func WithSystemJob(fn SystemJobFunc) Option {
	return func(o *options) {
		o.system = fn
	}
}

// WithUnsolicited sets the handler for lines that do not answer a job.
func WithUnsolicited(fn LineHandler) Option {
	return func(o *options) {
		o.unsolicited = fn
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// runLoop ticks at delay and feeds lines to handle until ctx ends or the
// stream closes.
func runLoop(
	ctx context.Context,
	clock clockwork.Clock,
	delay time.Duration,
	lines <-chan string,
	tick func(context.Context),
	handle func(string),
) error {
	if delay <= 0 {
		delay = DefaultWorkerDelay
	}
	ticker := clock.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return ErrConnectionLost
			}
			handle(line)
		case <-ticker.Chan():
			tick(ctx)
		}
	}
}
