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

package transport_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/moonunit/gateway/pkg/device/transport"
	"github.com/moonunit/gateway/pkg/device/transport/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openMock(t *testing.T, port *testutils.MockPort) (transport.Conn, *serial.Mode) {
	t.Helper()

	var mode *serial.Mode
	s := transport.NewSerial("/dev/ttyUSB0", 115200)
	s.Factory = func(_ string, m *serial.Mode) (transport.Port, error) {
		mode = m
		return port, nil
	}

	conn, err := s.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, mode
}

func recvLine(t *testing.T, conn transport.Conn) string {
	t.Helper()
	select {
	case line, ok := <-conn.Lines():
		require.True(t, ok, "lines channel closed")
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestSerial_Open(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockPort()
	_, mode := openMock(t, port)

	require.NotNil(t, mode)
	assert.Equal(t, 115200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, 100*time.Millisecond, port.ReadTimeout())
}

func TestSerial_OpenErrors(t *testing.T) {
	t.Parallel()

	s := transport.NewSerial("", 115200)
	_, err := s.Open(context.Background())
	require.Error(t, err)

	s = transport.NewSerial("/dev/ttyUSB0", 115200)
	s.Factory = func(string, *serial.Mode) (transport.Port, error) {
		return nil, errors.New("busy")
	}
	_, err = s.Open(context.Background())
	require.ErrorContains(t, err, "busy")

	port := testutils.NewMockPort()
	port.TimeoutErr = errors.New("bad timeout")
	s.Factory = func(string, *serial.Mode) (transport.Port, error) {
		return port, nil
	}
	_, err = s.Open(context.Background())
	require.Error(t, err)
	assert.True(t, port.IsClosed(), "port should be closed when setup fails")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Open(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSerial_Lines(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockPort()
	conn, _ := openMock(t, port)

	port.Feed("=00ACK1|2|3")
	port.Feed("|4|5\r\n\n=44;\n")

	assert.Equal(t, "=00ACK1|2|3|4|5", recvLine(t, conn))
	assert.Equal(t, "=44;", recvLine(t, conn))
}

func TestSerial_WriteAndFlush(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockPort()
	conn, _ := openMock(t, port)

	require.NoError(t, conn.Flush())
	require.NoError(t, conn.Write([]byte(":15 ;")))
	assert.Equal(t, ":15 ;", port.Written())
	assert.Equal(t, 1, port.ResetCount())

	port.FlushError = errors.New("ioctl failed")
	require.Error(t, conn.Flush())
}

func TestSerial_FlushDropsPartialLine(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockPort()
	conn, _ := openMock(t, port)

	port.Feed("=00AC")
	require.Eventually(t, func() bool { return port.Buffered() == 0 }, 2*time.Second, time.Millisecond)
	// the next Read starts only after the partial chunk was split
	reads := port.ReadCount()
	require.Eventually(t, func() bool { return port.ReadCount() > reads }, 2*time.Second, time.Millisecond)

	require.NoError(t, conn.Flush())
	port.Feed("=00ACKnew\n")
	assert.Equal(t, "=00ACKnew", recvLine(t, conn))
}

func TestSerial_ReadErrorEndsStream(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockPort()
	conn, _ := openMock(t, port)

	port.SetReadError(errors.New("input/output error"))

	select {
	case _, ok := <-conn.Lines():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("lines channel not closed after read error")
	}
}

func TestSerial_Close(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockPort()
	conn, _ := openMock(t, port)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, port.IsClosed())
	require.ErrorIs(t, conn.Write([]byte("x")), transport.ErrClosed)
	require.ErrorIs(t, conn.Flush(), transport.ErrClosed)

	_, ok := <-conn.Lines()
	assert.False(t, ok)
}

func TestIsDisconnect(t *testing.T) {
	t.Parallel()

	assert.False(t, transport.IsDisconnect(nil))
	assert.True(t, transport.IsDisconnect(errors.New("read /dev/ttyACM0: input/output error")))
	assert.True(t, transport.IsDisconnect(errors.New("write: broken pipe")))
	assert.False(t, transport.IsDisconnect(errors.New("permission denied")))
}

func TestLoopback_Echo(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback("controller", nil)
	conn, err := lb.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.Write([]byte("=00ACKhello\n")))
	assert.Equal(t, "=00ACKhello", recvLine(t, conn))
	assert.Equal(t, []string{"=00ACKhello\n"}, lb.Writes())
	assert.Equal(t, 1, lb.Opens())
	assert.Equal(t, "loopback:controller", lb.Describe())
}

func TestLoopback_ResponderAndInject(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback("gauger", func(string) []string {
		return []string{"GPS:1|2", "ACK:0:=00;"}
	})
	conn, err := lb.Open(context.Background())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.Write([]byte("0:20;")))
	assert.Equal(t, "GPS:1|2", recvLine(t, conn))
	assert.Equal(t, "ACK:0:=00;", recvLine(t, conn))

	lb.Inject("MAG:1|2|3")
	assert.Equal(t, "MAG:1|2|3", recvLine(t, conn))
}

func TestLoopback_Errors(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback("x", nil)
	lb.OpenErr = errors.New("no device")
	_, err := lb.Open(context.Background())
	require.Error(t, err)

	lb.OpenErr = nil
	conn, err := lb.Open(context.Background())
	require.NoError(t, err)

	lb.FlushErr = errors.New("flush")
	require.Error(t, conn.Flush())
	lb.WriteErr = errors.New("write")
	require.Error(t, conn.Write([]byte("x")))

	lb.Drop()
	_, ok := <-conn.Lines()
	assert.False(t, ok)
	require.ErrorIs(t, conn.Write([]byte("x")), transport.ErrClosed)
}
