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

package gauger_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/moonunit/gateway/pkg/device/dispatch"
	"github.com/moonunit/gateway/pkg/device/lifecycle"
	"github.com/moonunit/gateway/pkg/device/transport"
	"github.com/moonunit/gateway/pkg/gpio"
	"github.com/moonunit/gateway/pkg/gpio/testutils"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/moonunit/gateway/pkg/peripherals/gauger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

// acker acknowledges every tagged command with status 0.
func acker(written string) []string {
	id, _, ok := strings.Cut(written, ":")
	if !ok {
		return nil
	}
	return []string{"ACK:" + id + ":=00ACKok"}
}

func testConfig(stream string) gauger.Config {
	disp := dispatch.DefaultConfig(gauger.Name)
	disp.WorkerDelay = 2 * time.Millisecond
	return gauger.Config{
		Dispatch: disp,
		Lifecycle: lifecycle.Config{
			Name:       gauger.Name,
			OpenDelay:  time.Millisecond,
			ResetDelay: 10 * time.Millisecond,
		},
		StreamCommand: stream,
	}
}

type readingLog struct {
	readings []gauger.Reading
	mu       syncutil.Mutex
}

func (l *readingLog) record(r gauger.Reading) {
	l.mu.Lock()
	l.readings = append(l.readings, r)
	l.mu.Unlock()
}

func (l *readingLog) get() []gauger.Reading {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]gauger.Reading(nil), l.readings...)
}

func ptr(v float64) *float64 {
	return &v
}

func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want gauger.Reading
		ok   bool
	}{
		{
			name: "gps",
			line: "GPS:52.1|4.3",
			want: gauger.Reading{Tag: "GPS", Values: []*float64{ptr(52.1), ptr(4.3)}},
			ok:   true,
		},
		{
			name: "sentinel",
			line: "MAG:1000|2|1000",
			want: gauger.Reading{Tag: "MAG", Values: []*float64{nil, ptr(2), nil}},
			ok:   true,
		},
		{
			name: "trailing whitespace",
			line: "ORI:1|2|3\r",
			want: gauger.Reading{Tag: "ORI", Values: []*float64{ptr(1), ptr(2), ptr(3)}},
			ok:   true,
		},
		{name: "no tag", line: "12|34", ok: false},
		{name: "empty tag", line: ":12", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := gauger.ParseLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGauger_StreamActivationAndTelemetry(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback(gauger.Name, acker)
	log := &readingLog{}
	g := gauger.New(testConfig(gauger.DefaultStreamCommand), lb, nil, gauger.WithReadingListener(log.record))
	defer g.Shutdown()

	require.NoError(t, g.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return len(lb.Writes()) == 1 && g.Pending() == 0
	}, waitFor, 2*time.Millisecond)
	assert.Equal(t, []string{"0" + gauger.DefaultStreamCommand}, lb.Writes())

	lb.Inject("GPS:52.1|1000")
	lb.Inject("XYZ:1|2")
	lb.Inject("MAG:1|2|3")

	require.Eventually(t, func() bool {
		return len(g.Telemetry()) == 2
	}, waitFor, 2*time.Millisecond)

	tel := g.Telemetry()
	assert.Equal(t, []*float64{ptr(52.1), nil}, tel[gauger.TagGPS])
	assert.Equal(t, []*float64{ptr(1), ptr(2), ptr(3)}, tel[gauger.TagMAG])
	assert.Len(t, log.get(), 2)
}

func TestGauger_ConcurrentCommands(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback(gauger.Name, acker)
	g := gauger.New(testConfig(""), lb, nil)
	defer g.Shutdown()

	require.NoError(t, g.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	const n = 10
	errs := make(chan error, n)
	for range n {
		go func() {
			frame, err := g.Send(ctx, ":21 0;")
			if err == nil && !frame.OK() {
				err = assert.AnError
			}
			errs <- err
		}()
	}
	for range n {
		require.NoError(t, <-errs)
	}
	assert.Len(t, lb.Writes(), n)
	assert.Equal(t, 0, g.Pending())
}

func TestGauger_TelemetryClearedOnDisconnect(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback(gauger.Name, acker)
	g := gauger.New(testConfig(""), lb, nil)
	defer g.Shutdown()

	require.NoError(t, g.Connect(context.Background()))
	lb.Inject("ORI:1|2|3")
	require.Eventually(t, func() bool {
		return len(g.Telemetry()) == 1
	}, waitFor, 2*time.Millisecond)

	g.Disconnect()
	assert.Empty(t, g.Telemetry())
}

func TestGauger_StreamRejectedIsNotFatal(t *testing.T) {
	t.Parallel()

	lb := transport.NewLoopback(gauger.Name, func(written string) []string {
		id, _, _ := strings.Cut(written, ":")
		return []string{"ACK:" + id + ":=44;"}
	})
	g := gauger.New(testConfig(gauger.DefaultStreamCommand), lb, nil)
	defer g.Shutdown()

	require.NoError(t, g.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return len(lb.Writes()) == 1 && g.Pending() == 0
	}, waitFor, 2*time.Millisecond)
	assert.True(t, g.IsConnected())
}

func TestGauger_Reset(t *testing.T) {
	t.Parallel()

	chip := testutils.NewMockChip()
	cfg := gpio.DefaultConfig()
	cfg.Enabled = true
	cfg.ResetPulse = time.Millisecond
	pins := gpio.NewHelper(cfg, gpio.WithChipOpener(chip.Opener()))
	require.NoError(t, pins.Open(context.Background()))
	defer func() { _ = pins.Close() }()

	lb := transport.NewLoopback(gauger.Name, acker)
	g := gauger.New(testConfig(""), lb, pins)
	defer g.Shutdown()

	require.NoError(t, g.Connect(context.Background()))
	require.NoError(t, g.Reset(context.Background()))
	assert.Equal(t, []int{0, 1}, chip.History(gpio.DefaultGaugerReset))

	require.Eventually(t, func() bool {
		return g.IsConnected() && lb.Opens() == 2
	}, waitFor, 2*time.Millisecond)
}
