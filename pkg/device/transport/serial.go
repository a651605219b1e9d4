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
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const (
	readTimeout  = 100 * time.Millisecond
	readBufSize  = 1024
	lineChanSize = 64
)

// Port is the subset of serial.Port the gateway uses.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// PortFactory opens a serial port. Tests swap it for a mock.
type PortFactory func(path string, mode *serial.Mode) (Port, error)

// DefaultPortFactory opens a real serial port.
func DefaultPortFactory(path string, mode *serial.Mode) (Port, error) {
	if runtime.GOOS != "windows" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to stat device path %s: %w", path, err)
		}
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// Serial opens a device over a serial port at 8N1.
type Serial struct {
	Factory  PortFactory
	Path     string
	BaudRate int
}

// NewSerial returns an Opener for the port at path.
func NewSerial(path string, baudRate int) *Serial {
	return &Serial{
		Path:     path,
		BaudRate: baudRate,
		Factory:  DefaultPortFactory,
	}
}

func (s *Serial) Describe() string {
	return s.Path
}

func (s *Serial) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context error passed through
	}
	if s.Path == "" {
		return nil, errors.New("no serial port configured")
	}

	factory := s.Factory
	if factory == nil {
		factory = DefaultPortFactory
	}

	port, err := factory(s.Path, &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", s.Path, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout on serial port: %w", err)
	}

	c := &serialConn{
		port:  port,
		path:  s.Path,
		lines: make(chan string, lineChanSize),
		done:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()

	log.Info().Str("path", s.Path).Int("baud", s.BaudRate).Msg("serial port opened")
	return c, nil
}

type serialConn struct {
	port      Port
	lines     chan string
	done      chan struct{}
	path      string
	pending   []byte
	flushes   uint64
	wg        sync.WaitGroup
	closeOnce sync.Once
	writeMu   syncutil.Mutex
	// readMu guards pending and flushes.
	readMu syncutil.Mutex
}

func (c *serialConn) Lines() <-chan string {
	return c.lines
}

func (c *serialConn) Write(p []byte) error {
	if c.closed() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for len(p) > 0 {
		n, err := c.port.Write(p)
		if err != nil {
			return fmt.Errorf("failed to write to %s: %w", c.path, err)
		}
		p = p[n:]
	}
	return nil
}

func (c *serialConn) Flush() error {
	if c.closed() {
		return ErrClosed
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to reset input buffer: %w", err)
	}
	if err := c.port.ResetOutputBuffer(); err != nil {
		return fmt.Errorf("failed to reset output buffer: %w", err)
	}

	c.readMu.Lock()
	c.pending = c.pending[:0]
	c.flushes++
	c.readMu.Unlock()

	discardLines(c.lines)
	return nil
}

// Close stops the reader and closes the port. It waits for the read loop to
// exit and is safe to call more than once.
func (c *serialConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if cerr := c.port.Close(); cerr != nil {
			err = fmt.Errorf("failed to close serial port: %w", cerr)
		}
		c.wg.Wait()
		log.Debug().Str("path", c.path).Msg("serial port closed")
	})
	return err
}

func (c *serialConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *serialConn) readLoop() {
	defer c.wg.Done()
	defer close(c.lines)

	buf := make([]byte, readBufSize)

	for {
		if c.closed() {
			return
		}

		n, err := c.port.Read(buf)
		if err != nil {
			if c.closed() {
				return
			}
			if IsDisconnect(err) {
				log.Warn().Err(err).Str("path", c.path).Msg("serial device disconnected")
			} else {
				log.Error().Err(err).Str("path", c.path).Msg("failed to read from serial port")
			}
			return
		}

		c.readMu.Lock()
		var lines []string
		lines, c.pending = splitLines(c.pending, buf[:n])
		gen := c.flushes
		c.readMu.Unlock()

		for _, line := range lines {
			if c.flushedSince(gen) {
				break
			}
			select {
			case c.lines <- line:
			case <-c.done:
				return
			}
		}
	}
}

func (c *serialConn) flushedSince(gen uint64) bool {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.flushes != gen
}

// IsDisconnect reports whether err means the device is gone rather than
// misconfigured.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "no such device") ||
		strings.Contains(errStr, "broken pipe")
}
