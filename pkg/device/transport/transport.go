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

// Package transport provides the byte-stream connections the dispatchers
// write commands to and read response lines from.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a connection after Close.
var ErrClosed = errors.New("connection closed")

// Conn is an open device connection.
//
// Lines delivers complete response lines without their terminator. It is
// closed when the connection ends, either through Close or because the
// device went away.
type Conn interface {
	Write(p []byte) error
	// Flush discards any unread input and unsent output.
	Flush() error
	Lines() <-chan string
	Close() error
}

// Opener creates connections to one device.
type Opener interface {
	Open(ctx context.Context) (Conn, error)
	// Describe names the endpoint for logs and status output.
	Describe() string
}

// splitLines appends complete lines found in chunk to the pending buffer and
// returns them along with the new partial remainder. Carriage returns are
// dropped and blank lines are skipped.
func splitLines(pending, chunk []byte) (lines []string, rest []byte) {
	for _, b := range chunk {
		switch b {
		case '\n':
			if len(pending) > 0 {
				lines = append(lines, string(pending))
			}
			pending = pending[:0]
		case '\r':
		default:
			pending = append(pending, b)
		}
	}
	return lines, pending
}

// discardLines empties whatever the reader has already buffered.
func discardLines(ch chan string) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
