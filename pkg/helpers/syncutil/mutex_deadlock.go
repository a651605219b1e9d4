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

//go:build deadlock

// Package syncutil wraps the mutex types used by the gateway so a deadlock
// detector can be swapped in with -tags=deadlock.
package syncutil

import (
	"os"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockEnabled reports whether the binary was built with the detector.
const DeadlockEnabled = true

func init() {
	// dispatcher critical sections never wait on IO, so anything held this
	// long is stuck
	deadlock.Opts.DeadlockTimeout = 10 * time.Second
	deadlock.Opts.LogBuf = os.Stderr
}

// Mutex guards dispatcher and device state.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex guards read-mostly state such as config and peripheral stores.
type RWMutex struct {
	deadlock.RWMutex
}
