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

package helpers

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, zerolog.InfoLevel, LogLevel(false, false))
	assert.Equal(t, zerolog.DebugLevel, LogLevel(true, false))
	assert.Equal(t, zerolog.WarnLevel, LogLevel(false, true))
	assert.Equal(t, zerolog.DebugLevel, LogLevel(true, true))
}

func TestInitLogging(t *testing.T) {
	// Not parallel: InitLogging replaces the global logger and level.
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	t.Run("writes to file and extra writers", func(t *testing.T) {
		logDir := filepath.Join(t.TempDir(), "logs", "nested")
		var buf bytes.Buffer

		require.NoError(t, InitLogging(logDir, []io.Writer{&buf}, false, false))
		log.Info().Str("device", "controller").Msg("connected")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "connected", entry["message"])
		assert.Equal(t, "controller", entry["device"])
		assert.Contains(t, entry, "time")
		assert.Contains(t, entry, "caller")

		data, err := os.ReadFile(filepath.Join(logDir, LogFile))
		require.NoError(t, err)
		assert.Contains(t, string(data), "connected")

		_, err = io.WriteString(LogWriter(), "raw line\n")
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "raw line")
	})

	t.Run("quiet drops info", func(t *testing.T) {
		var buf bytes.Buffer

		require.NoError(t, InitLogging(t.TempDir(), []io.Writer{&buf}, false, true))
		log.Info().Msg("hidden")
		log.Warn().Msg("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("invalid directory", func(t *testing.T) {
		err := InitLogging("/proc/invalid\x00path", nil, false, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create log directory")
	})
}
