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

import "encoding/json"

const (
	NotificationDeviceState      = "device.state"
	NotificationControllerStatus = "controller.status"
	NotificationGaugerTelemetry  = "gauger.telemetry"
	NotificationGPIOPulse        = "gpio.pulse"
)

// Notification is an event pushed to websocket clients and publishers.
type Notification struct {
	Method string
	Params json.RawMessage
}

// NotificationObject is the JSON-RPC style envelope written to websocket
// clients. It has no ID because clients never reply to it.
type NotificationObject struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type CommandRequest struct {
	Command string `json:"command" validate:"command"`
}
