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

// Package config loads and saves the gateway's TOML settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// AppVersion is set at build time with -ldflags.
var AppVersion = "DEVELOPMENT"

const (
	SchemaVersion = 1
	CfgFile       = "gateway.toml"
	CfgEnv        = "MOONUNIT_CFG"
)

// Environment overrides, applied on top of the file at every Load.
const (
	EnvControllerPort = "CONTROLLER_PORT"
	EnvGaugerPort     = "GAUGER_PORT"
	EnvHTTPPort       = "HTTP_PORT"
	EnvMock           = "MOCK"
	EnvQuiet          = "QUIET"
	EnvGPIOEnabled    = "GPIO_ENABLED"
)

type Values struct {
	Publishers   Publishers `toml:"publishers,omitempty"`
	DeviceID     string     `toml:"device_id"`
	Errors       Errors     `toml:"errors"`
	Discovery    Discovery  `toml:"discovery"`
	API          API        `toml:"api"`
	Controller   Controller `toml:"controller"`
	Gauger       Gauger     `toml:"gauger"`
	GPIO         GPIO       `toml:"gpio"`
	ConfigSchema int        `toml:"config_schema"`
	DebugLogging bool       `toml:"debug_logging"`
	Quiet        bool       `toml:"quiet"`
	Mock         bool       `toml:"mock"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	API: API{
		Port: DefaultAPIPort,
	},
	Controller: Controller{
		Device:       defaultDevice(),
		PollPosition: true,
	},
	Gauger: Gauger{
		Device:        defaultDevice(),
		StreamCommand: DefaultStreamCommand,
		JobTTLMs:      30_000,
	},
	GPIO: defaultGPIO(),
}

type Instance struct {
	fs       afero.Fs
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// NewConfig loads the config file from configDir, or the path in
// MOONUNIT_CFG, writing the defaults first if the file does not exist.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		fs:       fs,
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := fs.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", cfgPath).Msg("saving new default config to disk")

		if err := fs.MkdirAll(filepath.Dir(cfgPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Load(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Path() string {
	return c.cfgPath
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top.
	newVals := c.defaults
	if err := toml.Unmarshal(data, &newVals); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	applyEnv(&newVals, os.Getenv)
	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	if c.vals.DeviceID == "" {
		newID := uuid.New().String()
		c.vals.DeviceID = newID
		log.Info().Msgf("generated new device id: %s", newID)
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func envBool(v string) bool {
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		// any other non-empty value switches the flag on
		return true
	}
	return b
}

func applyEnv(v *Values, getenv func(string) string) {
	if p := getenv(EnvControllerPort); p != "" {
		v.Controller.Port = p
	}
	if p := getenv(EnvGaugerPort); p != "" {
		v.Gauger.Port = p
	}
	if p := getenv(EnvHTTPPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			log.Warn().Str("value", p).Msgf("ignoring invalid %s", EnvHTTPPort)
		} else {
			v.API.Port = port
		}
	}
	if s := getenv(EnvMock); s != "" {
		v.Mock = envBool(s)
	}
	if s := getenv(EnvQuiet); s != "" {
		v.Quiet = envBool(s)
	}
	if s := getenv(EnvGPIOEnabled); s != "" {
		v.GPIO.Enabled = envBool(s)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the loaded values. An enabled device needs a port unless
// the gateway runs in mock mode.
func (c *Instance) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := validate.Struct(c.vals); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if !c.vals.Mock {
		if c.vals.Controller.Enabled && c.vals.Controller.Port == "" {
			return fmt.Errorf("invalid config: controller port not set, you can use %s", EnvControllerPort)
		}
		if c.vals.Gauger.Enabled && c.vals.Gauger.Port == "" {
			return fmt.Errorf("invalid config: gauger port not set, you can use %s", EnvGaugerPort)
		}
	}
	return nil
}

func (c *Instance) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DeviceID
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}

// Quiet lowers logging to warnings and errors.
func (c *Instance) Quiet() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Quiet
}

// Mock replaces both serial devices with loopback devices.
func (c *Instance) Mock() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Mock
}

func (c *Instance) SetMock(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Mock = enabled
}
