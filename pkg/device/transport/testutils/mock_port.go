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

// Package testutils provides a scriptable serial port for transport tests.
package testutils

import (
	"errors"
	"time"

	"github.com/moonunit/gateway/pkg/helpers/syncutil"
)

// ErrPortClosed is returned by reads and writes after Close.
var ErrPortClosed = errors.New("port closed")

// MockPort implements transport.Port. Data passed to Feed is returned by
// Read; everything written is recorded.
type MockPort struct {
	ReadError    error
	WriteError   error
	CloseError   error
	TimeoutErr   error
	FlushError   error
	readData     []byte
	written      []byte
	resets       int
	reads        int
	mu           syncutil.RWMutex
	closed       bool
	timeoutValue time.Duration
}

// NewMockPort creates an open mock port.
func NewMockPort() *MockPort {
	return &MockPort{}
}

// Feed queues bytes to be returned by Read.
func (m *MockPort) Feed(data string) {
	m.mu.Lock()
	m.readData = append(m.readData, data...)
	m.mu.Unlock()
}

// SetReadError makes every subsequent Read fail.
func (m *MockPort) SetReadError(err error) {
	m.mu.Lock()
	m.ReadError = err
	m.mu.Unlock()
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	m.reads++
	if m.closed {
		m.mu.Unlock()
		return 0, ErrPortClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.mu.Unlock()
		return 0, err
	}
	if len(m.readData) == 0 {
		m.mu.Unlock()
		// a read timeout with no data
		time.Sleep(10 * time.Millisecond)
		return 0, nil
	}
	n := copy(p, m.readData)
	m.readData = m.readData[n:]
	m.mu.Unlock()
	return n, nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrPortClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.written = append(m.written, p...)
	return len(p), nil
}

// Written returns everything written to the port.
func (m *MockPort) Written() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return string(m.written)
}

func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FlushError != nil {
		return m.FlushError
	}
	m.readData = nil
	m.resets++
	return nil
}

func (m *MockPort) ResetOutputBuffer() error {
	return nil
}

func (m *MockPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeoutValue = t
	return m.TimeoutErr
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseError
}

// IsClosed reports whether Close was called.
func (m *MockPort) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// ReadTimeout returns the last timeout passed to SetReadTimeout.
func (m *MockPort) ReadTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeoutValue
}

// ResetCount returns how many times the input buffer was reset.
func (m *MockPort) ResetCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resets
}

// Buffered returns how many fed bytes have not been read yet.
func (m *MockPort) Buffered() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readData)
}

// ReadCount returns how many times Read was called.
func (m *MockPort) ReadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads
}
