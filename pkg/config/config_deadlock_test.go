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

package config

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Build with -tags=deadlock to have lock order problems reported.
func TestInstance_ConcurrentReadersAndReload(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	path := writeConfig(t, fs, fmt.Sprintf("config_schema = %d\nmock = true\n", SchemaVersion))
	cfg := &Instance{fs: fs, cfgPath: path, vals: BaseDefaults, defaults: BaseDefaults}
	require.NoError(t, cfg.Load())

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				_ = cfg.APIListen()
				_ = cfg.Controller().WorkerDelay()
				_ = cfg.Gauger().JobTTL()
				_ = cfg.GPIO().StopHold()
				_ = cfg.Validate()
			}
		})
	}
	wg.Go(func() {
		for i := range 50 {
			cfg.SetAPIPort(9000 + i)
			cfg.SetMock(i%2 == 0)
			if err := cfg.Load(); err != nil {
				t.Errorf("reload: %v", err)
			}
		}
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("config accessors deadlocked")
	}

	assert.True(t, cfg.Mock(), "reload restores the file value")
	assert.Equal(t, DefaultAPIPort, cfg.APIPort())
}

func TestAPIListen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		listen string
		want   string
		port   int
	}{
		{name: "default port", want: ":8080"},
		{name: "custom port", port: 9090, want: ":9090"},
		{name: "loopback only", listen: "127.0.0.1", port: 9000, want: "127.0.0.1:9000"},
		{name: "ipv6", listen: "::1", port: 9000, want: "[::1]:9000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Instance{}
			cfg.vals.API.Listen = tt.listen
			cfg.vals.API.Port = tt.port
			assert.Equal(t, tt.want, cfg.APIListen())
		})
	}
}
