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

// Device status codes returned in the 2-digit status field of a response
// line. Codes below 40 are also synthesized locally by the dispatchers.
const (
	StatusOK             = 0
	StatusDeviceClosed   = 1
	StatusTimeout        = 2
	StatusFlushError     = 3
	StatusMissingColon   = 40
	StatusInvalidCommand = 44
	StatusInvalidMotorID = 45
	StatusInvalidDir     = 46
	StatusInvalidSteps   = 47
	StatusInvalidSpeed   = 48
	StatusInvalidOther   = 49
	StatusNoOrientation  = 50
	StatusInvalidModule  = 51

	// StatusUnparsed marks a response whose status field was not numeric.
	// It never appears in Codes, so its message lookup fails.
	StatusUnparsed = -1
)

// Codes maps a device status code to its message. It is never mutated.
var Codes = map[int]string{
	StatusOK:             "OK",
	StatusDeviceClosed:   "Device closed",
	StatusTimeout:        "Command timeout",
	StatusFlushError:     "Flush error",
	StatusMissingColon:   "Missing : before command",
	StatusInvalidCommand: "Invalid command",
	StatusInvalidMotorID: "Invalid motorId",
	StatusInvalidDir:     "Invalid direction",
	StatusInvalidSteps:   "Invalid steps/degrees",
	StatusInvalidSpeed:   "Invalid speed/acceleration",
	StatusInvalidOther:   "Invalid other parameter",
	StatusNoOrientation:  "Orientation unavailable",
	StatusInvalidModule:  "Invalid module",
}

// Message returns the message for a status code and whether it is known.
func Message(status int) (string, bool) {
	msg, ok := Codes[status]
	return msg, ok
}
