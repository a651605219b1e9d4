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

package service

import (
	"strings"

	"github.com/moonunit/gateway/pkg/device/transport"
	"github.com/moonunit/gateway/pkg/device/wire"
)

// mockReply answers a mock controller write. A well-formed response sent
// as the command comes straight back; anything else is acknowledged with
// the command as the body.
func mockReply(written string) []string {
	line := strings.TrimRight(written, "\r\n")
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, wire.ResponsePrefix) {
		return []string{line}
	}
	return []string{"=00ACK" + line}
}

// mockTaggedReply wraps mockReply in the gauger's acknowledgement envelope.
func mockTaggedReply(written string) []string {
	line := strings.TrimRight(written, "\r\n")
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 {
		return nil
	}
	reply := mockReply(line[i:])
	if len(reply) == 0 {
		return nil
	}
	return []string{wire.AckTag + ":" + line[:i] + ":" + reply[0]}
}

func mockOpener(name string, tagged bool) *transport.Loopback {
	if tagged {
		return transport.NewLoopback(name, mockTaggedReply)
	}
	return transport.NewLoopback(name, mockReply)
}
