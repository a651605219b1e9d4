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

package config

import "time"

const (
	DefaultBaudRate      = 115200
	DefaultStreamCommand = ":20 1;"
)

// Device holds the serial settings shared by the controller and the
// gauger. Durations are stored as milliseconds.
type Device struct {
	Port             string `toml:"port"`
	QueueOrder       string `toml:"queue_order,omitempty" validate:"omitempty,oneof=lifo fifo"`
	BaudRate         int    `toml:"baud_rate" validate:"min=1"`
	OpenDelayMs      int    `toml:"open_delay_ms" validate:"min=0"`
	WorkerDelayMs    int    `toml:"worker_delay_ms" validate:"min=1"`
	CommandTimeoutMs int    `toml:"command_timeout_ms" validate:"min=0"`
	ResetDelayMs     int    `toml:"reset_delay_ms" validate:"min=0"`
	Enabled          bool   `toml:"enabled"`
	// AutoConnect reconnects the device when its port reappears.
	AutoConnect bool `toml:"auto_connect"`
}

type Controller struct {
	Device
	// PollPosition polls the position when no command is queued.
	PollPosition bool `toml:"poll_position"`
}

type Gauger struct {
	Device
	StreamCommand string `toml:"stream_command"`
	JobTTLMs      int    `toml:"job_ttl_ms" validate:"min=0"`
}

func defaultDevice() Device {
	return Device{
		Enabled:          true,
		BaudRate:         DefaultBaudRate,
		OpenDelayMs:      2000,
		WorkerDelayMs:    100,
		CommandTimeoutMs: 5000,
		ResetDelayMs:     5000,
		QueueOrder:       "lifo",
		AutoConnect:      true,
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (d Device) OpenDelay() time.Duration {
	return ms(d.OpenDelayMs)
}

func (d Device) WorkerDelay() time.Duration {
	return ms(d.WorkerDelayMs)
}

// CommandTimeout of zero disables the single-flight timeout.
func (d Device) CommandTimeout() time.Duration {
	return ms(d.CommandTimeoutMs)
}

func (d Device) ResetDelay() time.Duration {
	return ms(d.ResetDelayMs)
}

func (g Gauger) JobTTL() time.Duration {
	return ms(g.JobTTLMs)
}

func (c *Instance) Controller() Controller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Controller
}

func (c *Instance) Gauger() Gauger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Gauger
}

// GPIO lines use BCM offsets on the named chip.
type GPIO struct {
	Chip               string `toml:"chip"`
	PinControllerReset int    `toml:"pin_controller_reset" validate:"min=0"`
	PinControllerStop  int    `toml:"pin_controller_stop" validate:"min=0"`
	PinControllerReady int    `toml:"pin_controller_ready" validate:"min=0"`
	PinGaugerReset     int    `toml:"pin_gauger_reset" validate:"min=0"`
	ResetPulseMs       int    `toml:"reset_pulse_ms" validate:"min=1"`
	StopHoldMs         int    `toml:"stop_hold_ms" validate:"min=1"`
	OpenRetries        int    `toml:"open_retries" validate:"min=1"`
	OpenRetryDelayMs   int    `toml:"open_retry_delay_ms" validate:"min=0"`
	Enabled            bool   `toml:"enabled"`
}

func defaultGPIO() GPIO {
	return GPIO{
		Chip:               "gpiochip0",
		PinControllerReset: 26,
		PinControllerStop:  19,
		PinControllerReady: 20,
		PinGaugerReset:     16,
		ResetPulseMs:       100,
		StopHoldMs:         1000,
		OpenRetries:        10,
		OpenRetryDelayMs:   3000,
	}
}

func (g GPIO) ResetPulse() time.Duration {
	return ms(g.ResetPulseMs)
}

func (g GPIO) StopHold() time.Duration {
	return ms(g.StopHoldMs)
}

func (g GPIO) OpenRetryDelay() time.Duration {
	return ms(g.OpenRetryDelayMs)
}

func (c *Instance) GPIO() GPIO {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.GPIO
}
