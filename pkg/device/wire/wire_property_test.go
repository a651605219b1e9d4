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

package wire

import (
	"fmt"
	"strconv"
	"testing"

	"pgregory.net/rapid"
)

// TestPropertyDecodeNeverPanics verifies arbitrary input always decodes.
func TestPropertyDecodeNeverPanics(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		line := rapid.String().Draw(t, "line")
		f := Decode(line)
		if f.Raw != line {
			t.Fatalf("raw not preserved: %q vs %q", f.Raw, line)
		}
	})
}

// TestPropertyDecodeRoundTrip verifies a well-formed response decodes to its parts.
func TestPropertyDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.IntRange(0, 99).Draw(t, "status")
		body := rapid.StringMatching(`[ -~]{0,40}`).Draw(t, "body")

		f := Decode(fmt.Sprintf("=%02dACK%s", status, body))

		if f.Status != status {
			t.Fatalf("status: got %d want %d", f.Status, status)
		}
		if f.Body != body {
			t.Fatalf("body: got %q want %q", f.Body, body)
		}
		if _, known := Codes[status]; known != (f.Message != "") {
			t.Fatalf("message presence mismatch for %d: %q", status, f.Message)
		}
	})
}

// TestPropertyAckRoundTrip verifies any id and frame survive the ack envelope.
func TestPropertyAckRoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.Uint64Range(0, MaxJobID).Draw(t, "id")
		status := rapid.IntRange(0, 99).Draw(t, "status")
		body := rapid.StringMatching(`[ -~]{0,40}`).Draw(t, "body")

		line := AckTag + ":" + strconv.FormatUint(id, 10) + ":" + fmt.Sprintf("=%02dACK%s", status, body)
		gotID, f, err := DecodeAck(line)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotID != id || f.Status != status || f.Body != body {
			t.Fatalf("mismatch: id=%d status=%d body=%q", gotID, f.Status, f.Body)
		}
	})
}
