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

package models

import (
	"github.com/moonunit/gateway/pkg/device/wire"
	"github.com/moonunit/gateway/pkg/helpers"
	"github.com/moonunit/gateway/pkg/peripherals/controller"
	"github.com/moonunit/gateway/pkg/peripherals/gauger"
)

const (
	ConnectedStatusConnected    = "Connected"
	ConnectedStatusDisconnected = "Disconnected"
)

type CommandResponse struct {
	Response wire.Frame `json:"response"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}

type MessageResponse struct {
	Status  *DeviceStatus `json:"status,omitempty"`
	Message string        `json:"message"`
}

// DeviceStatus is the lifecycle view of one serial device.
type DeviceStatus struct {
	Name            string `json:"name"`
	Endpoint        string `json:"endpoint"`
	State           string `json:"state"`
	ConnectedStatus string `json:"connectedStatus"`
	Pending         int    `json:"pending"`
	IsConnected     bool   `json:"isConnected"`
	Busy            bool   `json:"busy"`
}

type ControllerStatus struct {
	DeviceStatus
	controller.Status
	// Ready is the ready line, "ready" or "busy".
	Ready string `json:"ready,omitempty"`
}

type GaugerStatus struct {
	Telemetry gauger.Telemetry `json:"telemetry"`
	DeviceStatus
}

type GPIOStatus struct {
	Controller string `json:"controller,omitempty"`
	Enabled    bool   `json:"enabled"`
}

type Status struct {
	Controller *ControllerStatus `json:"controller,omitempty"`
	Gauger     *GaugerStatus     `json:"gauger,omitempty"`
	Host       *helpers.HostInfo `json:"host,omitempty"`
	DeviceID   string            `json:"deviceId"`
	Version    string            `json:"version"`
	GPIO       GPIOStatus        `json:"gpio"`
	Mock       bool              `json:"mock"`
}

type StatusResponse struct {
	Status Status `json:"status"`
}

type GPIOStateResponse struct {
	State string `json:"state"`
}

type DeviceStateParams struct {
	Device string `json:"device"`
	State  string `json:"state"`
}

type GPIOPulseParams struct {
	Line string `json:"line"`
}
