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

package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"

	"github.com/moonunit/gateway/pkg/config"
	"github.com/moonunit/gateway/pkg/helpers"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *Flags {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return SetupFlags(fs)
}

func TestPre_Version(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	exit, err := newFlags().Pre([]string{"-version"}, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Equal(t, "MoonUnit Gateway v"+config.AppVersion+"\n", out.String())
}

func TestPre_NoFlags(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	f := newFlags()
	exit, err := f.Pre(nil, &out)
	require.NoError(t, err)
	assert.False(t, exit)
	assert.False(t, *f.Daemon)
	assert.Empty(t, out.String())
}

func TestPre_UnknownFlag(t *testing.T) {
	t.Parallel()

	exit, err := newFlags().Pre([]string{"-bogus"}, io.Discard)
	require.Error(t, err)
	assert.True(t, exit)
}

func TestPre_ConfigPath(t *testing.T) {
	t.Setenv(config.CfgEnv, "")

	exit, err := newFlags().Pre([]string{"-config", "/opt/moonunit/bench.toml", "-daemon"}, io.Discard)
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, "/opt/moonunit/bench.toml", os.Getenv(config.CfgEnv))
}

func TestPre_ListPorts(t *testing.T) {
	orig := listSerialPorts
	t.Cleanup(func() { listSerialPorts = orig })

	tests := []struct {
		err   error
		name  string
		want  string
		ports []helpers.SerialPort
	}{
		{
			name: "ports",
			ports: []helpers.SerialPort{
				{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Uno"},
				{Name: "/dev/ttyUSB0"},
			},
			want: "/dev/ttyACM0 [2341:0043] Uno\n/dev/ttyUSB0\n",
		},
		{
			name: "none",
			want: "No serial ports found\n",
		},
		{
			name: "error",
			err:  errors.New("enumerate failed"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listSerialPorts = func() ([]helpers.SerialPort, error) {
				return tt.ports, tt.err
			}
			var out bytes.Buffer
			exit, err := newFlags().Pre([]string{"-list-ports"}, &out)
			assert.True(t, exit)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestParseAPI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, value        string
		method, path, body string
		wantErr            bool
	}{
		{name: "path only", value: "/status", method: "GET", path: "/status"},
		{name: "method and path", value: "post /controller/connect", method: "POST", path: "/controller/connect"},
		{
			name:   "body",
			value:  `POST /gauger/command/sync {"command": ":21;"}`,
			method: "POST", path: "/gauger/command/sync", body: `{"command": ":21;"}`,
		},
		{
			name:   "path and body",
			value:  `/command/sync {"command":":04 1 1 45;"}`,
			method: "POST", path: "/command/sync", body: `{"command":":04 1 1 45;"}`,
		},
		{name: "empty", value: "  ", wantErr: true},
		{name: "no path", value: "GET", wantErr: true},
		{name: "bad path", value: "GET status", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			method, path, body, err := parseAPI(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestSplitFilter(t *testing.T) {
	t.Parallel()

	assert.Nil(t, splitFilter(""))
	assert.Equal(t, []string{"device.state", "gauger"}, splitFilter(" device.state, ,gauger "))
}

func testConfig(t *testing.T, port int) *config.Instance {
	t.Helper()
	cfg, err := config.NewConfig(afero.NewMemMapFs(), "/etc/moonunit", config.BaseDefaults)
	require.NoError(t, err)
	cfg.SetAPIPort(port)
	return cfg
}

func serverPort(t *testing.T, server *httptest.Server) int {
	t.Helper()
	_, p, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return port
}

func TestPost_API(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/status" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":{"mock":true}}`))
	}))
	t.Cleanup(server.Close)
	cfg := testConfig(t, serverPort(t, server))

	f := newFlags()
	_, err := f.Pre([]string{"-api", "/status"}, io.Discard)
	require.NoError(t, err)

	var out bytes.Buffer
	handled, err := f.Post(context.Background(), cfg, &out)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.JSONEq(t, `{"status":{"mock":true}}`, out.String())

	f = newFlags()
	_, err = f.Pre([]string{"-api", "POST /nope"}, io.Discard)
	require.NoError(t, err)
	handled, err = f.Post(context.Background(), cfg, io.Discard)
	require.Error(t, err)
	assert.True(t, handled)
	assert.Contains(t, err.Error(), "not found")
}

func TestPost_WaitNeedsMethod(t *testing.T) {
	t.Parallel()

	f := newFlags()
	_, err := f.Pre([]string{"-wait", ""}, io.Discard)
	require.NoError(t, err)
	handled, err := f.Post(context.Background(), testConfig(t, 1), io.Discard)
	require.Error(t, err)
	assert.True(t, handled)
}

func TestPost_NothingToDo(t *testing.T) {
	t.Parallel()

	f := newFlags()
	_, err := f.Pre([]string{"-daemon"}, io.Discard)
	require.NoError(t, err)
	handled, err := f.Post(context.Background(), testConfig(t, 1), io.Discard)
	require.NoError(t, err)
	assert.False(t, handled)
}
