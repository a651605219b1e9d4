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

// Package peripherals holds what the controller and gauger boards share:
// parsing of the pipe separated numeric payloads both of them report.
package peripherals

import (
	"math"
	"strconv"
	"strings"
)

// Separator splits the fields of a numeric payload.
const Separator = "|"

// ParseFloats splits a payload such as "12.5|-3|NaN;" into readings. Fields
// that are not finite numbers become nil so they encode as JSON null. A
// trailing terminator and surrounding whitespace are ignored.
func ParseFloats(payload string) []*float64 {
	payload = strings.TrimSpace(payload)
	payload = strings.TrimSuffix(payload, ";")
	if payload == "" {
		return nil
	}

	fields := strings.Split(payload, Separator)
	out := make([]*float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = &v
	}
	return out
}

// DropSentinel replaces every reading equal to sentinel with nil.
func DropSentinel(vals []*float64, sentinel float64) []*float64 {
	for i, v := range vals {
		if v != nil && *v == sentinel {
			vals[i] = nil
		}
	}
	return vals
}

// Pick copies vals into a fixed size slice, padding with nil. Extra fields
// are ignored.
func Pick(vals []*float64, n int) []*float64 {
	out := make([]*float64, n)
	copy(out, vals)
	return out
}
