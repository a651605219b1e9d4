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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const LogFile = "gateway.log"

var (
	logWriterMu sync.Mutex
	logWriter   io.Writer = os.Stderr
)

// LogWriter is the writer InitLogging set up, for callers that wrap the
// global logger with extra outputs.
func LogWriter() io.Writer {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()
	return logWriter
}

// LogLevel picks the global level. Debug wins over quiet.
func LogLevel(debug, quiet bool) zerolog.Level {
	switch {
	case debug:
		return zerolog.DebugLevel
	case quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// InitLogging points the global logger at a rotating file in logDir plus
// any extra writers, such as stderr when running in the foreground.
func InitLogging(logDir string, writers []io.Writer, debug, quiet bool) error {
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logWriters := []io.Writer{&lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFile),
		MaxSize:    1,
		MaxBackups: 2,
	}}

	if len(writers) > 0 {
		logWriters = append(logWriters, writers...)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(LogLevel(debug, quiet))

	w := io.MultiWriter(logWriters...)
	logWriterMu.Lock()
	logWriter = w
	logWriterMu.Unlock()

	log.Logger = log.Output(w).With().Timestamp().Caller().Logger()

	return nil
}
