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

// Package jobs holds the unit of work submitted to a device and the queue the
// dispatchers pull from.
package jobs

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/moonunit/gateway/pkg/device/wire"
)

// Handler is called exactly once when a Job resolves. It runs on the
// goroutine that resolved the Job and must not block for long.
type Handler func(frame wire.Frame, err error)

// Option configures a Job at creation.
type Option func(*Job)

// WithHandler attaches a completion callback in addition to the Future.
func WithHandler(h Handler) Option {
	return func(j *Job) {
		j.handler = h
	}
}

// AsSystem marks a Job as generated by the gateway itself (the controller
// position poll). System jobs are not logged at info level.
func AsSystem() Option {
	return func(j *Job) {
		j.IsSystem = true
	}
}

// Job is a single command awaiting its device response.
type Job struct {
	handler  Handler
	future   *Future
	Body     string
	ID       uint64
	once     sync.Once
	queued   atomic.Bool
	IsSystem bool
}

// New creates an unresolved Job for the given command body.
func New(body string, opts ...Option) *Job {
	j := &Job{
		Body:   body,
		future: newFuture(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Future returns the handle callers wait on.
func (j *Job) Future() *Future {
	return j.future
}

// Resolve completes the Job with a device frame. Only the first resolution
// (frame or error) takes effect; later calls return false.
func (j *Job) Resolve(frame wire.Frame) bool {
	return j.complete(frame, nil)
}

// Fail completes the Job with a transport error.
func (j *Job) Fail(err error) bool {
	return j.complete(wire.Frame{}, err)
}

// Resolved reports whether the Job has completed.
func (j *Job) Resolved() bool {
	select {
	case <-j.future.done:
		return true
	default:
		return false
	}
}

func (j *Job) complete(frame wire.Frame, err error) bool {
	won := false
	j.once.Do(func() {
		won = true
		j.future.frame = frame
		j.future.err = err
		close(j.future.done)
	})
	if won && j.handler != nil {
		j.handler(frame, err)
	}
	return won
}

// Future is the read side of a Job.
type Future struct {
	err   error
	done  chan struct{}
	frame wire.Frame
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the Job resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Job resolves or ctx ends. Cancelling ctx does not
// cancel the Job; it still runs and resolves on the device.
func (f *Future) Wait(ctx context.Context) (wire.Frame, error) {
	select {
	case <-f.done:
		return f.frame, f.err
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}
