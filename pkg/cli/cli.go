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

// Package cli holds the command line flags shared by the gateway binary.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/moonunit/gateway/internal/telemetry"
	"github.com/moonunit/gateway/pkg/api/client"
	"github.com/moonunit/gateway/pkg/api/models"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/moonunit/gateway/pkg/helpers"
	"github.com/moonunit/gateway/pkg/service/broker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// listSerialPorts can be replaced in tests to avoid touching real ports.
var listSerialPorts = helpers.ListSerialPorts

type Flags struct {
	Config    *string
	API       *string
	Wait      *string
	Watch     *string
	Version   *bool
	ListPorts *bool
	Daemon    *bool
	set       *flag.FlagSet
}

// SetupFlags defines the gateway flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		set: fs,
		Config: fs.String(
			"config",
			"",
			"path to gateway.toml (default in the user config directory)",
		),
		API: fs.String(
			"api",
			"",
			`send a request to the running gateway, e.g. "POST /gauger/command/sync {\"command\":\":21;\"}"`,
		),
		Wait: fs.String(
			"wait",
			"",
			"wait for one notification of this method and print its params",
		),
		Watch: fs.String(
			"watch",
			"",
			"print notifications from the running gateway, optionally filtered by a comma separated list",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		ListPorts: fs.Bool(
			"list-ports",
			false,
			"list candidate serial ports and exit",
		),
		Daemon: fs.Bool(
			"daemon",
			false,
			"run in the foreground and log to stderr",
		),
	}
}

func (f *Flags) isFlagPassed(name string) bool {
	found := false
	f.set.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses args and handles the flags that need no config or logging.
// It returns true when the program should exit.
func (f *Flags) Pre(args []string, out io.Writer) (bool, error) {
	if err := f.set.Parse(args); err != nil {
		return true, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *f.Config != "" {
		if err := os.Setenv(config.CfgEnv, *f.Config); err != nil {
			return true, fmt.Errorf("failed to set config path: %w", err)
		}
	}

	switch {
	case *f.Version:
		_, _ = fmt.Fprintf(out, "MoonUnit Gateway v%s\n", config.AppVersion)
		return true, nil
	case *f.ListPorts:
		return true, printPorts(out)
	}
	return false, nil
}

func printPorts(out io.Writer) error {
	ports, err := listSerialPorts()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		_, _ = fmt.Fprintln(out, "No serial ports found")
		return nil
	}
	for _, p := range ports {
		_, _ = fmt.Fprintln(out, p.String())
	}
	return nil
}

// parseAPI splits an -api value into method, path and body. The method is
// optional and defaults to GET, or POST when a body is given.
func parseAPI(value string) (method, path, body string, err error) {
	fields := strings.SplitN(strings.TrimSpace(value), " ", 3)
	if fields[0] == "" {
		return "", "", "", errors.New("api flag requires a value")
	}

	if strings.HasPrefix(fields[0], "/") {
		path = fields[0]
		if len(fields) > 1 {
			body = strings.Join(fields[1:], " ")
			return "POST", path, body, nil
		}
		return "GET", path, "", nil
	}

	if len(fields) < 2 || !strings.HasPrefix(fields[1], "/") {
		return "", "", "", fmt.Errorf("invalid api request: %q", value)
	}
	method = strings.ToUpper(fields[0])
	path = fields[1]
	if len(fields) == 3 {
		body = fields[2]
	}
	return method, path, body, nil
}

func splitFilter(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Post handles the flags that talk to a running gateway. It returns true
// when one of them was handled and the program should exit.
func (f *Flags) Post(ctx context.Context, cfg *config.Instance, out io.Writer) (bool, error) {
	switch {
	case f.isFlagPassed("api"):
		method, path, body, err := parseAPI(*f.API)
		if err != nil {
			return true, err
		}
		resp, err := client.LocalClient(ctx, cfg, method, path, body)
		if err != nil {
			log.Error().Err(err).Msg("error calling API")
			return true, fmt.Errorf("error calling API: %w", err)
		}
		_, _ = fmt.Fprintln(out, resp)
		return true, nil
	case f.isFlagPassed("wait"):
		if *f.Wait == "" {
			return true, errors.New("wait flag requires a notification method")
		}
		resp, err := client.WaitNotification(ctx, -1, cfg, *f.Wait)
		if err != nil {
			log.Error().Err(err).Msg("error waiting for notification")
			return true, fmt.Errorf("error waiting for notification: %w", err)
		}
		_, _ = fmt.Fprintln(out, resp)
		return true, nil
	case f.isFlagPassed("watch"):
		filter := splitFilter(*f.Watch)
		err := client.Watch(ctx, cfg, func(n models.NotificationObject) {
			if broker.MatchMethod(filter, n.Method) {
				_, _ = fmt.Fprintf(out, "%s %s\n", n.Method, n.Params)
			}
		})
		if err != nil {
			return true, fmt.Errorf("error watching notifications: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// Setup starts logging and loads the config. Error reporting is switched
// on when the config opts in.
//
//nolint:gocritic // config struct copied for immutability
func Setup(defaults config.Values, writers []io.Writer) (*config.Instance, error) {
	if err := helpers.InitLogging(helpers.LogDir(), writers, false, false); err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), helpers.ConfigDir(), defaults)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	zerolog.SetGlobalLevel(helpers.LogLevel(cfg.DebugLogging(), cfg.Quiet()))

	if err := telemetry.Init(cfg.ErrorReporting(), cfg.DeviceID(), cfg.Mock()); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}
