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

package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/moonunit/gateway/pkg/helpers/syncutil"
)

// Responder produces the lines a loopback device answers a write with.
type Responder func(written string) []string

// Echo answers every write with the written bytes, minus the trailing line
// terminator. Sending a well-formed response as the command body therefore
// makes the gateway see that response.
func Echo(written string) []string {
	line := strings.TrimRight(written, "\r\n")
	if line == "" {
		return nil
	}
	return []string{line}
}

// Loopback is an in-memory device used in mock mode and tests.
type Loopback struct {
	FlushErr  error
	WriteErr  error
	OpenErr   error
	Responder Responder
	current   *loopConn
	name      string
	writes    []string
	opens     int
	mu        syncutil.Mutex
}

// NewLoopback creates a loopback device. A nil responder means Echo.
func NewLoopback(name string, responder Responder) *Loopback {
	if responder == nil {
		responder = Echo
	}
	return &Loopback{
		name:      name,
		Responder: responder,
	}
}

func (l *Loopback) Describe() string {
	return "loopback:" + l.name
}

func (l *Loopback) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context error passed through
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.OpenErr != nil {
		return nil, l.OpenErr
	}

	c := &loopConn{
		dev:    l,
		lines:  make(chan string, lineChanSize),
		done:   make(chan struct{}),
		signal: make(chan struct{}, 1),
	}
	c.wg.Add(1)
	go c.pump()

	l.current = c
	l.opens++
	return c, nil
}

// Inject delivers an unsolicited line on the open connection, as if the
// device had sent it. It is a no-op when nothing is open.
func (l *Loopback) Inject(line string) {
	l.mu.Lock()
	c := l.current
	l.mu.Unlock()
	if c != nil {
		c.enqueue(line)
	}
}

// Drop simulates the device going away: the open connection's line stream
// ends as if the cable was pulled.
func (l *Loopback) Drop() {
	l.mu.Lock()
	c := l.current
	l.current = nil
	l.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// SetResponder replaces the responder for subsequent writes.
func (l *Loopback) SetResponder(r Responder) {
	if r == nil {
		r = Echo
	}
	l.mu.Lock()
	l.Responder = r
	l.mu.Unlock()
}

// SetFlushErr makes Flush fail with err until cleared with nil.
func (l *Loopback) SetFlushErr(err error) {
	l.mu.Lock()
	l.FlushErr = err
	l.mu.Unlock()
}

// SetWriteErr makes Write fail with err until cleared with nil.
func (l *Loopback) SetWriteErr(err error) {
	l.mu.Lock()
	l.WriteErr = err
	l.mu.Unlock()
}

// Silent never answers.
func Silent(string) []string {
	return nil
}

// Writes returns every payload written so far, across connections.
func (l *Loopback) Writes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.writes))
	copy(out, l.writes)
	return out
}

// Opens returns how many times the device was opened.
func (l *Loopback) Opens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens
}

type loopConn struct {
	dev       *Loopback
	lines     chan string
	done      chan struct{}
	signal    chan struct{}
	pending   []string
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        syncutil.Mutex
}

func (c *loopConn) Lines() <-chan string {
	return c.lines
}

func (c *loopConn) Write(p []byte) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.dev.mu.Lock()
	if err := c.dev.WriteErr; err != nil {
		c.dev.mu.Unlock()
		return err
	}
	c.dev.writes = append(c.dev.writes, string(p))
	responder := c.dev.Responder
	c.dev.mu.Unlock()

	for _, line := range responder(string(p)) {
		c.enqueue(line)
	}
	return nil
}

func (c *loopConn) Flush() error {
	if c.isClosed() {
		return ErrClosed
	}

	c.dev.mu.Lock()
	err := c.dev.FlushErr
	c.dev.mu.Unlock()
	if err != nil {
		return err
	}

	// unread input is discarded, as with a real port
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	discardLines(c.lines)
	return nil
}

func (c *loopConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		c.dev.mu.Lock()
		if c.dev.current == c {
			c.dev.current = nil
		}
		c.dev.mu.Unlock()
	})
	return nil
}

func (c *loopConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *loopConn) enqueue(line string) {
	c.mu.Lock()
	c.pending = append(c.pending, line)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// pump moves queued lines to the Lines channel so writers never block on a
// slow reader.
func (c *loopConn) pump() {
	defer c.wg.Done()
	defer close(c.lines)

	for {
		c.mu.Lock()
		var next string
		ok := len(c.pending) > 0
		if ok {
			next = c.pending[0]
			c.pending = c.pending[1:]
		}
		c.mu.Unlock()

		if !ok {
			select {
			case <-c.signal:
				continue
			case <-c.done:
				return
			}
		}

		select {
		case c.lines <- next:
		case <-c.done:
			return
		}
	}
}
