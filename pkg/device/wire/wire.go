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

// Package wire implements the line protocol spoken by the controller and
// gauger boards.
//
// Requests are ASCII lines beginning with ':' and terminated by ';'.
// Responses have the form:
//
//	=SSXXXbody
//
// where SS is a 2-digit status code, XXX a fixed 3-character separator and
// body the free-form remainder of the line. The gauger wraps responses in
// an acknowledgement envelope, ACK:<id>:<response>, so they can be matched
// to the command that caused them.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// ResponsePrefix starts every response line.
	ResponsePrefix = "="
	// AckTag is the literal first field of an acknowledgement envelope.
	AckTag = "ACK"

	statusOffset = 1
	statusWidth  = 2
	// HeaderWidth is the prefix, status field and separator.
	HeaderWidth = statusOffset + statusWidth + 3

	// MaxJobID is the bound at which correlation IDs wrap back to 0.
	MaxJobID = 2_000_000_000
)

// ErrMalformedAck is returned for lines that cannot be split into an
// acknowledgement envelope.
var ErrMalformedAck = errors.New("malformed ack envelope")

// Frame is one decoded response line.
type Frame struct {
	Message string `json:"message,omitempty"`
	Body    string `json:"body"`
	Raw     string `json:"raw"`
	Error   string `json:"error,omitempty"`
	Status  int    `json:"status"`
}

// OK reports whether the device accepted the command.
func (f Frame) OK() bool {
	return f.Status == StatusOK
}

// Known reports whether the status code is in the code table.
func (f Frame) Known() bool {
	_, ok := Codes[f.Status]
	return ok
}

// Encode converts a caller-supplied command into device bytes. Real devices
// choke on stray whitespace, so the body is trimmed unless mock is set, in
// which case the exact bytes are sent for the loopback transport to echo.
func Encode(body string, mock bool) []byte {
	if mock {
		return []byte(body)
	}
	return []byte(strings.TrimSpace(body))
}

// EncodeTagged prefixes a command with its decimal correlation ID.
func EncodeTagged(id uint64, body string, mock bool) []byte {
	if !mock {
		body = strings.TrimSpace(body)
	}
	return []byte(strconv.FormatUint(id, 10) + body)
}

// Decode parses a single response line. It never fails: a line too short
// to carry a status, or with a non-numeric status, decodes to
// StatusUnparsed with an empty message.
func Decode(line string) Frame {
	f := Frame{
		Raw:    line,
		Status: StatusUnparsed,
	}

	if len(line) >= statusOffset+statusWidth {
		field := line[statusOffset : statusOffset+statusWidth]
		if n, err := strconv.Atoi(field); err == nil {
			f.Status = n
		}
	}

	if len(line) > HeaderWidth {
		f.Body = line[HeaderWidth:]
	}

	f.Message, _ = Message(f.Status)
	return f
}

// IsAck reports whether a line carries an acknowledgement envelope.
func IsAck(line string) bool {
	return strings.HasPrefix(line, AckTag+":")
}

// DecodeAck unwraps an ACK:<id>:<response> envelope.
func DecodeAck(line string) (uint64, Frame, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return 0, Frame{}, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformedAck, len(parts))
	}
	if parts[0] != AckTag {
		return 0, Frame{}, fmt.Errorf("%w: unexpected tag %q", ErrMalformedAck, parts[0])
	}

	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, Frame{}, fmt.Errorf("%w: invalid job id %q", ErrMalformedAck, parts[1])
	}

	return id, Decode(parts[2]), nil
}

func synthetic(status int) Frame {
	raw := fmt.Sprintf("%s%02d;", ResponsePrefix, status)
	msg, _ := Message(status)
	return Frame{
		Status:  status,
		Message: msg,
		Raw:     raw,
	}
}

// ClosedFrame is delivered to jobs that were still pending when the device
// connection went away.
func ClosedFrame() Frame {
	return synthetic(StatusDeviceClosed)
}

// TimeoutFrame is delivered when the device did not answer in time.
func TimeoutFrame() Frame {
	return synthetic(StatusTimeout)
}

// FlushErrorFrame is delivered when the pre-write flush failed.
func FlushErrorFrame(err error) Frame {
	f := synthetic(StatusFlushError)
	if err != nil {
		f.Error = err.Error()
	}
	return f
}
