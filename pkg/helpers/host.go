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
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"
)

// HostInfo is a small health snapshot of the machine running the gateway.
type HostInfo struct {
	// Uptime of the host in seconds.
	Uptime uint64 `json:"uptime"`
	// Started is when the gateway process started, in unix milliseconds.
	Started int64 `json:"started"`
	// RSS is the resident memory of the gateway process in bytes.
	RSS uint64 `json:"rss"`
}

func ReadHostInfo(ctx context.Context) (HostInfo, error) {
	var info HostInfo

	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to read host uptime: %w", err)
	}
	info.Uptime = uptime

	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return info, fmt.Errorf("failed to open own process: %w", err)
	}
	if info.Started, err = p.CreateTimeWithContext(ctx); err != nil {
		return info, fmt.Errorf("failed to read process start time: %w", err)
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to read process memory: %w", err)
	}
	info.RSS = mem.RSS

	return info, nil
}
