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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/moonunit/gateway/pkg/api/models"
	"github.com/moonunit/gateway/pkg/api/validation"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/moonunit/gateway/pkg/device/lifecycle"
	"github.com/moonunit/gateway/pkg/device/wire"
	"github.com/moonunit/gateway/pkg/gpio"
	"github.com/moonunit/gateway/pkg/helpers"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 64 << 10

// Device is the part of a peripheral the HTTP layer drives.
type Device interface {
	Name() string
	Endpoint() string
	State() lifecycle.State
	IsConnected() bool
	Busy() bool
	Pending() int
	Connect(ctx context.Context) error
	Disconnect()
	Reset(ctx context.Context) error
	Send(ctx context.Context, body string) (wire.Frame, error)
}

// ReadyFunc reports the ready line state, "ready" or "busy".
type ReadyFunc func(ctx context.Context) (string, error)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("error writing response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}

func deviceStatus(d Device) models.DeviceStatus {
	connected := d.IsConnected()
	cs := models.ConnectedStatusDisconnected
	if connected {
		cs = models.ConnectedStatusConnected
	}
	return models.DeviceStatus{
		Name:            d.Name(),
		Endpoint:        d.Endpoint(),
		State:           d.State().String(),
		ConnectedStatus: cs,
		Pending:         d.Pending(),
		IsConnected:     connected,
		Busy:            d.Busy(),
	}
}

func buildStatus(ctx context.Context, env *Env) models.Status {
	st := models.Status{
		DeviceID: env.Config.DeviceID(),
		Version:  config.AppVersion,
		Mock:     env.Config.Mock(),
	}

	if host, err := helpers.ReadHostInfo(ctx); err != nil {
		log.Debug().Err(err).Msg("host info unavailable")
	} else {
		st.Host = &host
	}

	if env.Pins != nil && env.Pins.Enabled() {
		st.GPIO.Enabled = true
		state, err := env.Pins.ControllerState(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read gpio state")
		} else {
			st.GPIO.Controller = state
		}
	}

	if c := env.Controller; c != nil {
		cs := &models.ControllerStatus{
			DeviceStatus: deviceStatus(c),
			Status:       c.Status(),
		}
		if ready, err := c.ReadyState(ctx); err == nil {
			cs.Ready = ready
		}
		st.Controller = cs
	}

	if g := env.Gauger; g != nil {
		st.Gauger = &models.GaugerStatus{
			DeviceStatus: deviceStatus(g),
			Telemetry:    g.Telemetry(),
		}
	}
	return st
}

func handleStatus(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.StatusResponse{Status: buildStatus(r.Context(), env)})
	}
}

var errGPIODisabled = errors.New("gpio not enabled")

func gpioEnabled(pins *gpio.Helper) bool {
	return pins != nil && pins.Enabled()
}

func handleGPIOState(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !gpioEnabled(env.Pins) {
			writeError(w, http.StatusBadRequest, errGPIODisabled)
			return
		}
		state, err := env.Pins.ControllerState(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("failed to read gpio state")
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, models.GPIOStateResponse{State: state})
	}
}

func handleGPIOStop(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !gpioEnabled(env.Pins) {
			writeError(w, http.StatusBadRequest, errGPIODisabled)
			return
		}
		if err := env.Pins.StopController(r.Context()); err != nil {
			log.Error().Err(err).Msg("failed to send controller stop")
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: "stop sent"})
	}
}

// handleReset pulses the device reset line. The device reconnects on its
// own after its reset delay.
func handleReset(pins *gpio.Helper, d Device) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !gpioEnabled(pins) {
			writeError(w, http.StatusBadRequest, errGPIODisabled)
			return
		}
		err := d.Reset(r.Context())
		if errors.Is(err, lifecycle.ErrNoResetLine) {
			writeError(w, http.StatusBadRequest, err)
			return
		} else if err != nil {
			log.Error().Err(err).Str("device", d.Name()).Msg("failed to reset device")
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: "reset sent"})
	}
}

func handleConnect(d Device) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.IsConnected() {
			writeJSON(w, http.StatusBadRequest, models.MessageResponse{Message: "Device already connected"})
			return
		}
		if err := d.Connect(r.Context()); err != nil {
			log.Error().Err(err).Str("device", d.Name()).Msg("failed to connect device")
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		st := deviceStatus(d)
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Device connected", Status: &st})
	}
}

func handleDisconnect(d Device) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		d.Disconnect()
		st := deviceStatus(d)
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Device disconnected", Status: &st})
	}
}

func readCommand(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return "", validation.ErrInvalidBody
	}
	var req models.CommandRequest
	if err := validation.ValidateAndUnmarshal(body, &req); err != nil {
		if errors.Is(err, validation.ErrMissingBody) {
			return "", errors.New("missing command")
		}
		return "", err
	}
	return req.Command, nil
}

// handleCommandSync sends one command and waits for the device's answer.
// A device-level failure such as a timeout is still a 200 carrying the
// failure frame. ready is optional.
func handleCommandSync(d Device, ready ReadyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd, err := readCommand(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if !d.IsConnected() {
			writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{
				Error: lifecycle.ErrNotConnected.Error(),
				State: d.State().String(),
			})
			return
		}

		if ready != nil {
			state, err := ready(r.Context())
			if err != nil {
				log.Error().Err(err).Str("device", d.Name()).Msg("failed to read ready state")
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if state != gpio.StateReady {
				writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{
					Error: "not ready",
					State: state,
				})
				return
			}
		}

		frame, err := d.Send(r.Context(), cmd)
		switch {
		case errors.Is(err, lifecycle.ErrNotConnected):
			writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{
				Error: err.Error(),
				State: d.State().String(),
			})
		case err != nil:
			log.Error().Err(err).Str("device", d.Name()).Msg("command failed")
			writeError(w, http.StatusInternalServerError, err)
		default:
			writeJSON(w, http.StatusOK, models.CommandResponse{Response: frame})
		}
	}
}
