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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/moonunit/gateway/internal/telemetry"
	"github.com/moonunit/gateway/pkg/cli"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/moonunit/gateway/pkg/helpers"
	"github.com/moonunit/gateway/pkg/service"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags(flag.CommandLine)
	if exit, err := flags.Pre(os.Args[1:], os.Stdout); exit || err != nil {
		return err
	}

	var logWriters []io.Writer
	if *flags.Daemon {
		logWriters = []io.Writer{os.Stderr}
	}

	cfg, err := cli.Setup(config.BaseDefaults, logWriters)
	if err != nil {
		return err
	}
	defer telemetry.Close()

	defer func() {
		if err := recover(); err != nil {
			telemetry.Flush()
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if handled, err := flags.Post(ctx, cfg, os.Stdout); handled || err != nil {
		return err
	}

	svc, err := helpers.NewService(helpers.ServiceArgs{
		Entry:  service.Entry(cfg),
		RunDir: helpers.RunDir(),
	})
	if err != nil {
		return fmt.Errorf("error creating service: %w", err)
	}

	if !*flags.Daemon {
		_, _ = fmt.Printf("MoonUnit Gateway v%s, logging to %s\n", config.AppVersion, helpers.LogDir())
		for _, ip := range helpers.GetAllLocalIPs() {
			_, _ = fmt.Printf("API: http://%s\n", net.JoinHostPort(ip, strconv.Itoa(cfg.APIPort())))
		}
	}

	if err := svc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("service exited with error")
		return err
	}
	return nil
}
