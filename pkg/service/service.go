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

// Package service wires the configured devices, GPIO lines and outward
// surfaces into one running gateway.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/moonunit/gateway/pkg/api"
	"github.com/moonunit/gateway/pkg/api/models"
	"github.com/moonunit/gateway/pkg/api/notifications"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/moonunit/gateway/pkg/device/dispatch"
	"github.com/moonunit/gateway/pkg/device/jobs"
	"github.com/moonunit/gateway/pkg/device/lifecycle"
	"github.com/moonunit/gateway/pkg/device/transport"
	"github.com/moonunit/gateway/pkg/gpio"
	"github.com/moonunit/gateway/pkg/helpers"
	"github.com/moonunit/gateway/pkg/peripherals/controller"
	"github.com/moonunit/gateway/pkg/peripherals/gauger"
	"github.com/moonunit/gateway/pkg/service/broker"
	"github.com/moonunit/gateway/pkg/service/discovery"
	"github.com/moonunit/gateway/pkg/service/hotplug"
	"github.com/moonunit/gateway/pkg/service/publishers"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	notificationBuffer = 100
	subscriberBuffer   = 100
)

// Service is a running gateway.
type Service struct {
	cfg        *config.Instance
	ctrl       *controller.Controller
	gauger     *gauger.Gauger
	pins       *gpio.Helper
	broker     *broker.Broker
	server     *api.Server
	discovery  *discovery.Service
	publishers []*publishers.MQTTPublisher
	cancel     context.CancelFunc
	hotplug    chan struct{}
}

func dispatchConfig(name string, d config.Device, mock bool) dispatch.Config {
	dc := dispatch.DefaultConfig(name)
	dc.WorkerDelay = d.WorkerDelay()
	dc.CommandTimeout = d.CommandTimeout()
	dc.Mock = mock
	order, err := jobs.ParseOrder(d.QueueOrder)
	if err != nil {
		log.Warn().Err(err).Str("device", name).Msg("using default queue order")
	}
	dc.Order = order
	return dc
}

func lifecycleConfig(name string, d config.Device) lifecycle.Config {
	return lifecycle.Config{
		Name:       name,
		OpenDelay:  d.OpenDelay(),
		ResetDelay: d.ResetDelay(),
	}
}

func gpioConfig(g config.GPIO) gpio.Config {
	return gpio.Config{
		Chip:            g.Chip,
		ControllerReset: g.PinControllerReset,
		ControllerStop:  g.PinControllerStop,
		ControllerReady: g.PinControllerReady,
		GaugerReset:     g.PinGaugerReset,
		ResetPulse:      g.ResetPulse(),
		StopHold:        g.StopHold(),
		OpenRetries:     g.OpenRetries,
		OpenRetryDelay:  g.OpenRetryDelay(),
		Enabled:         g.Enabled,
	}
}

func opener(name string, d config.Device, mock, tagged bool) transport.Opener {
	if mock {
		return mockOpener(name, tagged)
	}
	return transport.NewSerial(d.Port, d.BaudRate)
}

// Option adjusts how Start builds the gateway, mostly for tests.
type Option func(*options)

type options struct {
	gpioOpts []gpio.Option
}

// WithGPIOOptions passes options to the GPIO helper.
func WithGPIOOptions(opts ...gpio.Option) Option {
	return func(o *options) {
		o.gpioOpts = append(o.gpioOpts, opts...)
	}
}

// Start builds and starts the gateway. Devices that fail to open are
// logged and left Closed so they can be connected later over the API.
func Start(cfg *config.Instance, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log.Info().Msgf("version: %s", config.AppVersion)
	log.Info().Str("device_id", cfg.DeviceID()).Bool("mock", cfg.Mock()).Msg("starting gateway")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{cfg: cfg, cancel: cancel}

	ns := make(chan models.Notification, notificationBuffer)
	s.broker = broker.NewBroker(ns)
	s.broker.Start(ctx)

	stateListener := func(name string, st lifecycle.State) {
		notifications.DeviceState(ns, models.DeviceStateParams{Device: name, State: st.String()})
	}

	gpioOpts := append([]gpio.Option{
		gpio.WithPulseListener(func(line string) {
			notifications.GPIOPulse(ns, models.GPIOPulseParams{Line: line})
		}),
	}, o.gpioOpts...)
	s.pins = gpio.NewHelper(gpioConfig(cfg.GPIO()), gpioOpts...)
	if err := s.pins.Open(ctx); err != nil {
		cancel()
		<-s.broker.Done()
		return nil, fmt.Errorf("failed to open gpio: %w", err)
	}

	mock := cfg.Mock()
	var devices []string

	if cc := cfg.Controller(); cc.Enabled {
		s.ctrl = controller.New(controller.Config{
			Dispatch:     dispatchConfig(controller.Name, cc.Device, mock),
			Lifecycle:    lifecycleConfig(controller.Name, cc.Device),
			PollPosition: cc.PollPosition,
		}, opener(controller.Name, cc.Device, mock, false), s.pins,
			controller.WithStateListener(stateListener),
			controller.WithStatusListener(func(st controller.Status) {
				notifications.ControllerStatus(ns, st)
			}),
		)
		devices = append(devices, controller.Name)
	}

	if gc := cfg.Gauger(); gc.Enabled {
		dc := dispatchConfig(gauger.Name, gc.Device, mock)
		dc.JobTTL = gc.JobTTL()
		s.gauger = gauger.New(gauger.Config{
			Dispatch:      dc,
			Lifecycle:     lifecycleConfig(gauger.Name, gc.Device),
			StreamCommand: gc.StreamCommand,
		}, opener(gauger.Name, gc.Device, mock, true), s.pins,
			gauger.WithStateListener(stateListener),
			gauger.WithReadingListener(func(r gauger.Reading) {
				notifications.GaugerTelemetry(ns, r)
			}),
		)
		devices = append(devices, gauger.Name)
	}

	s.connectAll(ctx)

	if !mock {
		s.startHotplug(ctx)
	}

	apiNotifications, _ := s.broker.Subscribe("api", subscriberBuffer)
	server, err := api.Start(&api.Env{
		Config:        cfg,
		Controller:    s.ctrl,
		Gauger:        s.gauger,
		Pins:          s.pins,
		Notifications: apiNotifications,
	})
	if err != nil {
		_ = s.Stop()
		return nil, fmt.Errorf("failed to start api: %w", err)
	}
	s.server = server

	s.startPublishers()

	s.discovery = discovery.New(cfg, devices)
	if err := s.discovery.Start(); err != nil {
		log.Error().Err(err).Msg("mDNS discovery failed to start (continuing without discovery)")
	}

	log.Info().Strs("devices", devices).Msg("gateway started")
	return s, nil
}

// connectAll opens every enabled device at once. Startup continues when a
// device fails.
func (s *Service) connectAll(ctx context.Context) {
	var g errgroup.Group
	connect := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	if s.ctrl != nil {
		connect(controller.Name, s.ctrl.Connect)
	}
	if s.gauger != nil {
		connect(gauger.Name, s.gauger.Connect)
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("device failed to connect at startup")
	}
}

func (s *Service) startHotplug(ctx context.Context) {
	w := hotplug.New()
	if s.ctrl != nil && s.cfg.Controller().AutoConnect {
		w.Add(s.cfg.Controller().Port, s.ctrl)
	}
	if s.gauger != nil && s.cfg.Gauger().AutoConnect {
		w.Add(s.cfg.Gauger().Port, s.gauger)
	}
	if w.Len() == 0 {
		return
	}

	s.hotplug = make(chan struct{})
	go func() {
		defer close(s.hotplug)
		if err := w.Run(ctx); err != nil {
			log.Warn().Err(err).Msg("hotplug reconnect unavailable")
		}
	}()
}

func (s *Service) startPublishers() {
	for _, pc := range s.cfg.MQTTPublishers() {
		p := publishers.NewMQTTPublisher(pc)
		ch, id := s.broker.Subscribe("mqtt", subscriberBuffer, p.Filter()...)
		if err := p.Start(s.cfg.DeviceID(), ch); err != nil {
			log.Error().Err(err).Str("broker", pc.Broker).Msg("failed to start mqtt publisher")
			s.broker.Unsubscribe(id)
			continue
		}
		s.publishers = append(s.publishers, p)
	}
}

// Addr is the HTTP listen address.
func (s *Service) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr()
}

// Devices lists the enabled devices.
func (s *Service) Devices() []string {
	var out []string
	if s.ctrl != nil {
		out = append(out, controller.Name)
	}
	if s.gauger != nil {
		out = append(out, gauger.Name)
	}
	return out
}

// Stop shuts everything down in reverse order of Start.
func (s *Service) Stop() error {
	log.Info().Msg("stopping gateway")
	var errs []error

	if s.discovery != nil {
		s.discovery.Stop()
	}
	if s.server != nil {
		if err := s.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range s.publishers {
		p.Stop()
	}

	s.cancel()
	if s.hotplug != nil {
		<-s.hotplug
	}
	if s.ctrl != nil {
		s.ctrl.Shutdown()
	}
	if s.gauger != nil {
		s.gauger.Shutdown()
	}
	if err := s.pins.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close gpio: %w", err))
	}
	<-s.broker.Done()

	log.Info().Msg("gateway stopped")
	return errors.Join(errs...)
}

// Entry adapts Start for helpers.Service.
func Entry(cfg *config.Instance, opts ...Option) helpers.ServiceEntry {
	return func(context.Context) (func() error, error) {
		s, err := Start(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return s.Stop, nil
	}
}
