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
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialPort is a candidate port for the controller or the gauger.
type SerialPort struct {
	Name         string `json:"name"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
	IsUSB        bool   `json:"isUsb"`
}

func (p SerialPort) String() string {
	if !p.IsUSB {
		return p.Name
	}
	s := fmt.Sprintf("%s [%s:%s]", p.Name, p.VID, p.PID)
	if p.Product != "" {
		s += " " + p.Product
	}
	if p.SerialNumber != "" {
		s += " serial=" + p.SerialNumber
	}
	return s
}

func isSerialCandidate(goos, name string) bool {
	switch goos {
	case "linux":
		base := filepath.Base(name)
		return strings.HasPrefix(base, "ttyUSB") || strings.HasPrefix(base, "ttyACM")
	case "darwin":
		return strings.HasPrefix(name, "/dev/tty.usbserial") ||
			strings.HasPrefix(name, "/dev/tty.usbmodem")
	case "windows":
		return strings.HasPrefix(name, "COM")
	default:
		return true
	}
}

// FilterSerialPorts keeps the ports that can be a USB serial board on
// goos, sorted by name.
func FilterSerialPorts(goos string, ports []*enumerator.PortDetails) []SerialPort {
	out := make([]SerialPort, 0, len(ports))
	for _, p := range ports {
		if p == nil || !isSerialCandidate(goos, p.Name) {
			continue
		}
		out = append(out, SerialPort{
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          strings.ToLower(p.VID),
			PID:          strings.ToLower(p.PID),
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	slices.SortFunc(out, func(a, b SerialPort) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// ListSerialPorts enumerates the serial ports on this machine. When the
// detailed enumerator is unavailable it falls back to plain port names.
func ListSerialPorts() ([]SerialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		return FilterSerialPorts(runtime.GOOS, details), nil
	}
	log.Debug().Err(err).Msg("detailed port listing failed, falling back")

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports list: %w", err)
	}
	ports := make([]*enumerator.PortDetails, 0, len(names))
	for _, n := range names {
		ports = append(ports, &enumerator.PortDetails{Name: n})
	}
	return FilterSerialPorts(runtime.GOOS, ports), nil
}
