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

// Package telemetry provides opt-in error reporting via Sentry. Home
// directories and device serial numbers are stripped before sending.
package telemetry

import (
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	sentryzerolog "github.com/getsentry/sentry-go/zerolog"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/moonunit/gateway/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 2 * time.Second

var ErrNoDSN = errors.New("error reporting enabled without a dsn")

type scrubber struct {
	re   *regexp.Regexp
	repl string
}

// scrubbers run in order over every string sent to Sentry.
var scrubbers = []scrubber{
	{regexp.MustCompile(`(?i)/home/[^/]+/`), "/home/<user>/"},
	{regexp.MustCompile(`(?i)/Users/[^/]+/`), "/Users/<user>/"},
	{regexp.MustCompile(`(?i)[a-zA-Z]:\\Users\\[^\\]+\\`), `C:\Users\<user>\`},
	// by-id links embed the USB serial number of the board
	{regexp.MustCompile(`/dev/serial/by-id/[^\s:]+`), "/dev/serial/by-id/<device>"},
}

var state struct {
	writer  *sentryzerolog.Writer
	mu      sync.Mutex
	enabled bool
	closed  bool
}

// Init starts Sentry and tees error level logs into it. It does nothing
// unless errs.Report is set.
func Init(errs config.Errors, deviceID string, mock bool) error {
	if !errs.Report {
		log.Debug().Msg("error reporting disabled")
		return nil
	}
	if errs.DSN == "" {
		return ErrNoDSN
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              errs.DSN,
		Release:          "moonunit-gateway@" + config.AppVersion,
		AttachStacktrace: true,
		MaxBreadcrumbs:   0,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return sanitizeEvent(event)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: deviceID})
		scope.SetTags(map[string]string{
			"os":   runtime.GOOS,
			"arch": runtime.GOARCH,
			"mock": strconv.FormatBool(mock),
		})
	})

	w, err := sentryzerolog.NewWithHub(sentry.CurrentHub(), sentryzerolog.Options{
		Levels:          []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		FlushTimeout:    flushTimeout,
		WithBreadcrumbs: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create sentry zerolog writer: %w", err)
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(
		helpers.LogWriter(),
		w,
	)).With().Timestamp().Caller().Logger()

	state.mu.Lock()
	state.writer = w
	state.enabled = true
	state.closed = false
	state.mu.Unlock()

	log.Info().Msg("error reporting enabled")
	return nil
}

// Close flushes pending events and detaches the log writer. Later calls
// do nothing.
func Close() {
	state.mu.Lock()
	w := state.writer
	skip := !state.enabled || state.closed
	state.closed = true
	state.mu.Unlock()
	if skip {
		return
	}
	if err := w.Close(); err != nil {
		log.Debug().Err(err).Msg("closing sentry log writer")
	}
	sentry.Flush(flushTimeout)
}

// Flush sends pending events, for use before os.Exit.
func Flush() {
	if Enabled() {
		sentry.Flush(flushTimeout)
	}
}

func Enabled() bool {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.enabled
}

func sanitizeEvent(event *sentry.Event) *sentry.Event {
	// the SDK may fill in the hostname anyway
	event.ServerName = ""

	for i := range event.Exception {
		event.Exception[i].Value = sanitizePath(event.Exception[i].Value)
		if event.Exception[i].Stacktrace != nil {
			for j := range event.Exception[i].Stacktrace.Frames {
				frame := &event.Exception[i].Stacktrace.Frames[j]
				frame.AbsPath = sanitizePath(frame.AbsPath)
				frame.Filename = sanitizePath(frame.Filename)
			}
		}
	}

	event.Message = sanitizePath(event.Message)

	for k, v := range event.Extra {
		if s, ok := v.(string); ok {
			event.Extra[k] = sanitizePath(s)
		}
	}

	return event
}

func sanitizePath(path string) string {
	for _, sc := range scrubbers {
		path = sc.re.ReplaceAllString(path, sc.repl)
	}
	return path
}
