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

// Package discovery advertises the gateway over mDNS so clients on the
// bench network can find it without knowing its address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_moonunit._tcp"
	Domain      = "local."
)

const (
	retryInterval    = 30 * time.Second
	maxRetryDuration = 5 * time.Minute
)

// Interfaces whose names start with these are container or VPN links and
// are never advertised on.
var virtualInterfacePrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

func filterInterfaces(ifaces []net.Interface) []net.Interface {
	var preferred []net.Interface
	for _, iface := range ifaces {
		switch {
		case iface.Flags&net.FlagUp == 0,
			iface.Flags&net.FlagLoopback != 0,
			iface.Flags&net.FlagMulticast == 0,
			isVirtualInterface(iface.Name):
			continue
		}
		preferred = append(preferred, iface)
	}
	return preferred
}

func isVirtualInterface(name string) bool {
	lowerName := strings.ToLower(name)
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(lowerName, prefix) {
			return true
		}
	}
	return false
}

func listInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}
	return filterInterfaces(all), nil
}

// Registration is a running advertisement.
type Registration interface {
	Shutdown()
}

// RegisterFunc publishes a service record. It matches zeroconf.Register.
type RegisterFunc func(
	instance, service, domain string,
	port int,
	text []string,
	ifaces []net.Interface,
) (Registration, error)

func zeroconfRegister(
	instance, service, domain string,
	port int,
	text []string,
	ifaces []net.Interface,
) (Registration, error) {
	server, err := zeroconf.Register(instance, service, domain, port, text, ifaces)
	if err != nil {
		return nil, fmt.Errorf("zeroconf register: %w", err)
	}
	return server, nil
}

type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithRegister replaces the mDNS backend.
func WithRegister(fn RegisterFunc) Option {
	return func(s *Service) {
		s.register = fn
	}
}

// WithHostname replaces os.Hostname.
func WithHostname(fn func() (string, error)) Option {
	return func(s *Service) {
		s.hostname = fn
	}
}

// WithInterfaces replaces interface discovery.
func WithInterfaces(fn func() ([]net.Interface, error)) Option {
	return func(s *Service) {
		s.interfaces = fn
	}
}

// Service advertises the HTTP API with TXT records carrying the device ID,
// the version and the enabled devices.
type Service struct {
	clock        clockwork.Clock
	register     RegisterFunc
	interfaces   func() ([]net.Interface, error)
	hostname     func() (string, error)
	server       Registration
	cfg          *config.Instance
	cancelFunc   context.CancelFunc
	done         chan struct{}
	instanceName string
	devices      []string
	stopped      bool
	mu           syncutil.Mutex
}

// New creates a discovery service. devices names the enabled peripherals.
func New(cfg *config.Instance, devices []string, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		devices:    devices,
		clock:      clockwork.NewRealClock(),
		register:   zeroconfRegister,
		interfaces: listInterfaces,
		hostname:   os.Hostname,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TXTRecords is the metadata published with the service.
func (s *Service) TXTRecords() []string {
	return []string{
		"id=" + s.cfg.DeviceID(),
		"version=" + config.AppVersion,
		"devices=" + strings.Join(s.devices, ","),
		"path=/status",
	}
}

// Start begins advertising. When the network is not up yet, registration
// is retried in the background for a while. Only a bad instance name is an
// error.
func (s *Service) Start() error {
	if !s.cfg.DiscoveryEnabled() {
		log.Info().Msg("mDNS discovery disabled by configuration")
		return nil
	}

	instanceName, err := s.resolveInstanceName()
	if err != nil {
		return fmt.Errorf("resolve instance name: %w", err)
	}
	s.mu.Lock()
	s.instanceName = instanceName
	s.mu.Unlock()

	if s.tryRegister() {
		return nil
	}

	log.Info().Dur("every", retryInterval).Dur("for", maxRetryDuration).
		Msg("gateway not advertised yet, retrying in the background")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.cancelFunc = cancel
	s.done = done
	s.mu.Unlock()

	go s.retryLoop(ctx, done)
	return nil
}

// tryRegister advertises on every usable interface. A bench Pi often
// boots before its network is configured, so failures are only logged.
func (s *Service) tryRegister() bool {
	ifaces, err := s.interfaces()
	switch {
	case err != nil:
		log.Debug().Err(err).Msg("no network interfaces for mDNS")
		return false
	case len(ifaces) == 0:
		log.Debug().Msg("no multicast interface is up")
		return false
	}

	port := s.cfg.APIPort()
	server, err := s.register(s.InstanceName(), ServiceType, Domain, port, s.TXTRecords(), ifaces)
	if err != nil {
		log.Debug().Err(err).Msg("mDNS register failed")
		return false
	}

	s.mu.Lock()
	// Stop may have run while registering
	if s.stopped {
		s.mu.Unlock()
		server.Shutdown()
		return false
	}
	s.server = server
	s.mu.Unlock()

	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	log.Info().
		Str("instance", s.InstanceName()).
		Int("port", port).
		Strs("devices", s.devices).
		Strs("interfaces", names).
		Msg("advertising gateway over mDNS")
	return true
}

func (s *Service) retryLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(retryInterval)
	defer ticker.Stop()
	deadline := s.clock.After(maxRetryDuration)

	for {
		select {
		case <-ticker.Chan():
			if s.tryRegister() {
				return
			}
		case <-deadline:
			log.Warn().Msg("giving up on mDNS, clients need the gateway address")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop withdraws the advertisement and ends any retry loop. It is safe to
// call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancelFunc, s.done
	s.cancelFunc = nil
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if server != nil {
		server.Shutdown()
		log.Debug().Msg("mDNS advertisement withdrawn")
	}
}

// Registered reports whether the service is currently advertised.
func (s *Service) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}

// InstanceName is empty until Start has run.
func (s *Service) InstanceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceName
}

// resolveInstanceName prefers the configured name, then the first label
// of the hostname, then a name built from the device ID.
func (s *Service) resolveInstanceName() (string, error) {
	if name := s.cfg.DiscoveryInstanceName(); name != "" {
		if strings.ContainsAny(name, ".\\") {
			return "", fmt.Errorf("instance name %q must not contain dots or backslashes", name)
		}
		return name, nil
	}

	hostname, err := s.hostname()
	if label, _, _ := strings.Cut(hostname, "."); err == nil && label != "" {
		return label, nil
	}
	log.Warn().Err(err).Msg("no usable hostname, naming the gateway after its device id")
	id := s.cfg.DeviceID()
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return "moonunit", nil
	}
	return "moonunit-" + id, nil
}
