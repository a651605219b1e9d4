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

package helpers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
)

// ServiceEntry starts the gateway and returns its stop function.
type ServiceEntry func(ctx context.Context) (func() error, error)

// Service runs an entry point under a PID file until its context ends.
type Service struct {
	start  ServiceEntry
	runDir string
}

type ServiceArgs struct {
	Entry  ServiceEntry
	RunDir string
}

func NewService(args ServiceArgs) (*Service, error) {
	if args.Entry == nil {
		return nil, errors.New("service entry not set")
	}
	if err := os.MkdirAll(args.RunDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return &Service{
		start:  args.Entry,
		runDir: args.RunDir,
	}, nil
}

func (s *Service) pidPath() string {
	return filepath.Join(s.runDir, PidFile)
}

func (s *Service) createPidFile() error {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(s.pidPath(), []byte(pid), 0o600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

func (s *Service) removePidFile() error {
	err := os.Remove(s.pidPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Pid returns the process ID in the PID file, or 0 when there is none.
func (s *Service) Pid() (int, error) {
	data, err := os.ReadFile(s.pidPath())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("error reading pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("error parsing pid: %w", err)
	}
	return pid, nil
}

// Running returns true if the process in the PID file is alive.
func (s *Service) Running() bool {
	pid, err := s.Pid()
	if err != nil || pid == 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Run starts the entry and blocks until ctx is done, then stops it and
// removes the PID file.
func (s *Service) Run(ctx context.Context) error {
	if s.Running() {
		return errors.New("service already running")
	}

	log.Info().Msg("starting service")
	if err := s.createPidFile(); err != nil {
		return err
	}

	stop, err := s.start(ctx)
	if err != nil {
		if rmErr := s.removePidFile(); rmErr != nil {
			log.Error().Err(rmErr).Msg("error removing pid file")
		}
		return fmt.Errorf("error starting service: %w", err)
	}

	<-ctx.Done()
	log.Info().Msg("stopping service")

	stopErr := stop()
	if stopErr != nil {
		log.Error().Err(stopErr).Msg("error stopping service")
	}
	if err := s.removePidFile(); err != nil {
		log.Error().Err(err).Msg("error removing pid file")
		return errors.Join(stopErr, err)
	}
	return stopErr
}
