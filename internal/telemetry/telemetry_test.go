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

package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "no username in path",
			input:    "/usr/local/bin/gateway",
			expected: "/usr/local/bin/gateway",
		},
		{
			name:     "linux home path",
			input:    "/home/pi/moonunit/gateway.toml",
			expected: "/home/<user>/moonunit/gateway.toml",
		},
		{
			name:     "linux home path uppercase",
			input:    "/Home/Pi/moonunit/gateway.toml",
			expected: "/home/<user>/moonunit/gateway.toml",
		},
		{
			name:     "macos users path",
			input:    "/Users/alice/Library/Application Support/moonunit/gateway.toml",
			expected: "/Users/<user>/Library/Application Support/moonunit/gateway.toml",
		},
		{
			name:     "windows path",
			input:    "C:\\Users\\alice\\AppData\\Roaming\\moonunit\\gateway.toml",
			expected: "C:\\Users\\<user>\\AppData\\Roaming\\moonunit\\gateway.toml",
		},
		{
			name:     "serial by-id link",
			input:    "failed to open /dev/serial/by-id/usb-Arduino_Mega_75833353035351E0B0A1-if00: busy",
			expected: "failed to open /dev/serial/by-id/<device>: busy",
		},
		{
			name:     "plain tty untouched",
			input:    "failed to open /dev/ttyACM0",
			expected: "failed to open /dev/ttyACM0",
		},
		{
			name:     "multiple paths in message",
			input:    "copying /home/alice/src to /home/bob/dst",
			expected: "copying /home/<user>/src to /home/<user>/dst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, sanitizePath(tt.input))
		})
	}
}

func TestSanitizeEvent(t *testing.T) {
	t.Parallel()

	event := &sentry.Event{
		ServerName: "bench-pi",
		Message:    "reading /home/pi/moonunit/gateway.toml",
		Extra:      map[string]any{"port": "/dev/serial/by-id/usb-FTDI_A1B2C3-if00-port0", "count": 3},
		Exception: []sentry.Exception{{
			Value: "open /home/pi/x: denied",
			Stacktrace: &sentry.Stacktrace{Frames: []sentry.Frame{
				{AbsPath: "/home/pi/src/gateway/main.go", Filename: "main.go"},
			}},
		}},
	}

	got := sanitizeEvent(event)
	assert.Empty(t, got.ServerName)
	assert.Equal(t, "reading /home/<user>/moonunit/gateway.toml", got.Message)
	assert.Equal(t, "/dev/serial/by-id/<device>", got.Extra["port"])
	assert.Equal(t, 3, got.Extra["count"])
	assert.Equal(t, "open /home/<user>/x: denied", got.Exception[0].Value)
	assert.Equal(t, "/home/<user>/src/gateway/main.go", got.Exception[0].Stacktrace.Frames[0].AbsPath)
}

func TestInit_Disabled(t *testing.T) {
	t.Parallel()

	require.NoError(t, Init(config.Errors{}, "dev", false))
	assert.False(t, Enabled())

	// no-ops while disabled
	Close()
	Flush()
}

func TestInit_MissingDSN(t *testing.T) {
	t.Parallel()

	err := Init(config.Errors{Report: true}, "dev", true)
	require.ErrorIs(t, err, ErrNoDSN)
	assert.False(t, Enabled())
}
