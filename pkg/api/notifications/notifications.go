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

package notifications

import (
	"encoding/json"

	"github.com/moonunit/gateway/pkg/api/models"
	"github.com/moonunit/gateway/pkg/peripherals/controller"
	"github.com/moonunit/gateway/pkg/peripherals/gauger"
	"github.com/rs/zerolog/log"
)

// sendNotification never blocks. A full channel drops the notification so
// a slow consumer cannot stall a device worker.
func sendNotification(ns chan<- models.Notification, method string, payload any) {
	var params json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("method", method).Msg("failed to marshal notification")
			return
		}
		params = data
	}

	select {
	case ns <- models.Notification{Method: method, Params: params}:
	default:
		log.Warn().Str("method", method).Msg("notification channel full, dropping notification")
	}
}

func DeviceState(ns chan<- models.Notification, payload models.DeviceStateParams) {
	sendNotification(ns, models.NotificationDeviceState, payload)
}

func ControllerStatus(ns chan<- models.Notification, payload controller.Status) {
	sendNotification(ns, models.NotificationControllerStatus, payload)
}

func GaugerTelemetry(ns chan<- models.Notification, payload gauger.Reading) {
	sendNotification(ns, models.NotificationGaugerTelemetry, payload)
}

func GPIOPulse(ns chan<- models.Notification, payload models.GPIOPulseParams) {
	sendNotification(ns, models.NotificationGPIOPulse, payload)
}
