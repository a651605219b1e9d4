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

import (
	"net"
	"slices"
	"strconv"
)

const DefaultAPIPort = 8080

type API struct {
	Listen         string   `toml:"listen,omitempty"`
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
	// AllowedIPs restricts clients to these addresses and CIDRs.
	AllowedIPs []string `toml:"allowed_ips,omitempty"`
	Port       int      `toml:"port" validate:"min=0,max=65535"`
	// RateLimit enables per-client request throttling.
	RateLimit *bool `toml:"rate_limit,omitempty"`
}

type Publishers struct {
	MQTT []MQTTPublisher `toml:"mqtt,omitempty"`
}

type MQTTPublisher struct {
	Enabled *bool    `toml:"enabled,omitempty"`
	Broker  string   `toml:"broker"`
	Topic   string   `toml:"topic"`
	Filter  []string `toml:"filter,omitempty,multiline"`
}

type Discovery struct {
	Enabled      *bool  `toml:"enabled,omitempty"`
	InstanceName string `toml:"instance_name,omitempty"`
}

// Errors controls opt-in crash and error reporting.
type Errors struct {
	DSN    string `toml:"dsn,omitempty"`
	Report bool   `toml:"report"`
}

func (c *Instance) APIPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiPortLocked()
}

// apiPortLocked returns the API port. Caller must hold mu (read or write).
func (c *Instance) apiPortLocked() int {
	if c.vals.API.Port == 0 {
		return DefaultAPIPort
	}
	return c.vals.API.Port
}

func (c *Instance) SetAPIPort(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.API.Port = port
}

// APIListen is the host:port the HTTP server binds.
func (c *Instance) APIListen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return net.JoinHostPort(c.vals.API.Listen, strconv.Itoa(c.apiPortLocked()))
}

func (c *Instance) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.vals.API.AllowedOrigins)
}

func (c *Instance) AllowedIPs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.vals.API.AllowedIPs)
}

func (c *Instance) RateLimitEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.RateLimit == nil {
		return true
	}
	return *c.vals.API.RateLimit
}

// MQTTPublishers returns the enabled MQTT publishers.
func (c *Instance) MQTTPublishers() []MQTTPublisher {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []MQTTPublisher
	for _, p := range c.vals.Publishers.MQTT {
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Instance) DiscoveryEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Discovery.Enabled == nil {
		return true
	}
	return *c.vals.Discovery.Enabled
}

func (c *Instance) DiscoveryInstanceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Discovery.InstanceName
}

func (c *Instance) ErrorReporting() Errors {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Errors
}
